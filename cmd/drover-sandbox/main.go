// Command drover-sandbox is a reference code execution service for drover.
//
// It receives Python code via HTTP, executes it in a subprocess, and returns
// results. Tool calls made by the code are POSTed back to the callback URL
// supplied with each execution request. Designed to run as a sidecar
// container next to a drover deployment using code.NewHTTPRunner.
//
// The reference sandbox is a minimal, single-tenant execution service
// suitable for development and small-scale deployments. For workloads
// requiring multi-tenancy or stronger isolation, put this behind a container
// per tenant or implement a custom drover.CodeRunner.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

type config struct {
	addr           string
	workspaceRoot  string
	pythonBin      string
	maxConcurrent  int
	maxOutputBytes int
}

func loadConfig() config {
	cfg := config{
		addr:           ":9000",
		workspaceRoot:  "/var/sandbox",
		pythonBin:      "python3",
		maxConcurrent:  4,
		maxOutputBytes: 512 * 1024,
	}
	if v := os.Getenv("SANDBOX_ADDR"); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("SANDBOX_WORKSPACE"); v != "" {
		cfg.workspaceRoot = v
	}
	if v := os.Getenv("SANDBOX_PYTHON_BIN"); v != "" {
		cfg.pythonBin = v
	}
	if v := os.Getenv("SANDBOX_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxConcurrent = n
		}
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxOutputBytes = n
		}
	}
	return cfg
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[drover-sandbox] ")

	cfg := loadConfig()

	if err := os.MkdirAll(cfg.workspaceRoot, 0o750); err != nil {
		log.Fatalf("workspace root: %v", err)
	}

	run := newRunner(cfg.pythonBin, cfg.workspaceRoot, cfg.maxOutputBytes)
	sem := make(chan struct{}, cfg.maxConcurrent)

	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleExecute(sem, run, w, r)
	})
	mux.HandleFunc("/health", handleHealth)

	srv := &http.Server{
		Addr:         cfg.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}
