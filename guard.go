package drover

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ContentGuard inspects prompts before they reach the model. A non-nil error
// is a fatal orchestration failure: the agent transitions to the error state
// and waits for an explicit resume.
type ContentGuard interface {
	// Name identifies the guard in error messages and logs.
	Name() string
	// CheckPrompt inspects the outgoing prompt text.
	CheckPrompt(prompt string) error
}

// zeroWidthChars strips Unicode zero-width and invisible characters used to
// smuggle text past substring checks.
var zeroWidthChars = strings.NewReplacer(
	"\u200b", " ", // zero-width space
	"\u200c", " ", // zero-width non-joiner
	"\u200d", " ", // zero-width joiner
	"\ufeff", " ", // zero-width no-break space (BOM)
	"\u2060", " ", // word joiner
	"\u00ad", "", // soft hyphen
)

// KeywordGuard blocks prompts containing any of the configured keywords
// (case-insensitive substring) or matching any regex pattern. Input is NFKC
// normalized first so fullwidth and stylized Unicode variants cannot slip
// past the keyword list. Safe for concurrent use.
type KeywordGuard struct {
	keywords []string
	regexes  []*regexp.Regexp
}

var _ ContentGuard = (*KeywordGuard)(nil)

// NewKeywordGuard creates a guard blocking prompts that contain any of the
// given keywords, matched case-insensitively.
func NewKeywordGuard(keywords ...string) *KeywordGuard {
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &KeywordGuard{keywords: lower}
}

// WithRegex adds regex patterns. Returns the guard for chaining.
func (g *KeywordGuard) WithRegex(patterns ...*regexp.Regexp) *KeywordGuard {
	g.regexes = append(g.regexes, patterns...)
	return g
}

func (g *KeywordGuard) Name() string { return "keyword" }

func (g *KeywordGuard) CheckPrompt(prompt string) error {
	cleaned := norm.NFKC.String(zeroWidthChars.Replace(prompt))
	lower := strings.ToLower(cleaned)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			return &GuardError{Guard: g.Name(), Stage: "prompt", Reason: "blocked keyword: " + kw}
		}
	}
	for _, re := range g.regexes {
		if re.MatchString(cleaned) {
			return &GuardError{Guard: g.Name(), Stage: "prompt", Reason: "blocked pattern: " + re.String()}
		}
	}
	return nil
}

// MaxFunctionCallsGuard trims a model response that requests more function
// calls than the limit. Unlike the prompt guards this degrades gracefully:
// the first max calls are kept, the excess dropped.
type MaxFunctionCallsGuard struct {
	max int
}

// NewMaxFunctionCallsGuard creates a guard keeping at most max calls per
// model response.
func NewMaxFunctionCallsGuard(max int) *MaxFunctionCallsGuard {
	return &MaxFunctionCallsGuard{max: max}
}

// Trim returns the calls capped at the configured limit.
func (g *MaxFunctionCallsGuard) Trim(calls []FunctionCall) []FunctionCall {
	if g.max > 0 && len(calls) > g.max {
		return calls[:g.max]
	}
	return calls
}
