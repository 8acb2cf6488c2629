package code

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/evrane/drover"
)

// callbackPath is the endpoint running code POSTs tool calls to.
const callbackPath = "/_drover/dispatch"

// routeBuffer bounds how many tool calls one execution may have queued
// before its drain goroutine picks them up.
const routeBuffer = 10

// toolCallEnvelope is one tool call in flight from the sandbox, paired with
// the channel its result travels back on.
type toolCallEnvelope struct {
	call  drover.FunctionCall
	reply chan toolCallReply // buffered(1), owned by the HTTP handler
}

type toolCallReply struct {
	payload string
	failed  bool
}

// dispatchBridge routes sandbox tool callbacks to the Run invocation that
// owns the execution. Each live execution mounts a route before the code
// starts and unmounts it when Run returns; callbacks for anything else are
// rejected. The bridge can serve its own listener or be mounted on an
// external mux via Handler.
type dispatchBridge struct {
	mu     sync.RWMutex
	routes map[string]chan toolCallEnvelope

	srv  *http.Server // nil when externally mounted
	addr string       // resolved listen address after Start
}

func newDispatchBridge() *dispatchBridge {
	return &dispatchBridge{routes: make(map[string]chan toolCallEnvelope)}
}

// Start listens on addr and serves the dispatch endpoint in a background
// goroutine. Returns once the listener is established.
func (b *dispatchBridge) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("callback server: listen %s: %w", addr, err)
	}
	b.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, b.handleDispatch)
	b.srv = &http.Server{Handler: mux}
	go b.srv.Serve(ln)
	return nil
}

// Addr is the resolved listen address, valid after Start returns nil.
func (b *dispatchBridge) Addr() string { return b.addr }

// Handler exposes the dispatch endpoint for external mux mounting.
func (b *dispatchBridge) Handler() http.Handler {
	return http.HandlerFunc(b.handleDispatch)
}

// mount opens the route for an execution and returns the channel its tool
// calls will arrive on.
func (b *dispatchBridge) mount(executionID string) chan toolCallEnvelope {
	ch := make(chan toolCallEnvelope, routeBuffer)
	b.mu.Lock()
	b.routes[executionID] = ch
	b.mu.Unlock()
	return ch
}

// unmount closes the route once the execution is over.
func (b *dispatchBridge) unmount(executionID string) {
	b.mu.Lock()
	delete(b.routes, executionID)
	b.mu.Unlock()
}

func (b *dispatchBridge) route(executionID string) (chan toolCallEnvelope, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.routes[executionID]
	return ch, ok
}

// Close drains the embedded server with a bounded timeout. No-op when
// externally mounted.
func (b *dispatchBridge) Close() error {
	if b.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.srv.Shutdown(ctx)
}

// sandboxDispatchRequest is the JSON body running code POSTs for each tool
// call.
type sandboxDispatchRequest struct {
	ExecutionID string          `json:"execution_id"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args"`
}

// sandboxDispatchResponse carries the tool result back to the sandbox.
type sandboxDispatchResponse struct {
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleDispatch accepts one tool call from the sandbox, hands it to the
// owning execution's drain goroutine, and blocks until the result is back
// or the caller gives up.
func (b *dispatchBridge) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sandboxDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDispatchResponse(w, http.StatusBadRequest, sandboxDispatchResponse{
			Error: "invalid request: " + err.Error(),
		})
		return
	}

	ch, ok := b.route(req.ExecutionID)
	if !ok {
		writeDispatchResponse(w, http.StatusNotFound, sandboxDispatchResponse{
			Error: "unknown execution_id: " + req.ExecutionID,
		})
		return
	}

	env := toolCallEnvelope{
		call: drover.FunctionCall{
			ID:   req.ExecutionID + "_" + req.Name,
			Name: req.Name,
			Args: req.Args,
		},
		reply: make(chan toolCallReply, 1),
	}
	select {
	case ch <- env:
	case <-r.Context().Done():
		writeDispatchResponse(w, http.StatusGatewayTimeout, sandboxDispatchResponse{
			Error: "request cancelled",
		})
		return
	}

	select {
	case reply := <-env.reply:
		resp := sandboxDispatchResponse{Data: reply.payload}
		if reply.failed {
			resp = sandboxDispatchResponse{Error: reply.payload}
		}
		writeDispatchResponse(w, http.StatusOK, resp)
	case <-r.Context().Done():
		writeDispatchResponse(w, http.StatusGatewayTimeout, sandboxDispatchResponse{
			Error: "dispatch timeout",
		})
	}
}

func writeDispatchResponse(w http.ResponseWriter, code int, v sandboxDispatchResponse) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
