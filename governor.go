package drover

// Decision is the governor's verdict for the next iteration boundary.
type Decision int

const (
	// DecisionContinue lets the loop run the next iteration.
	DecisionContinue Decision = iota
	// DecisionPauseThreshold pauses because spend or iteration count crossed
	// a configured ceiling (state hitl_threshold).
	DecisionPauseThreshold
	// DecisionPauseRequested pauses because an external actor set the
	// sticky check flag (state hitl_feedback).
	DecisionPauseRequested
)

func (d Decision) String() string {
	switch d {
	case DecisionPauseThreshold:
		return "pause-threshold"
	case DecisionPauseRequested:
		return "pause-requested"
	default:
		return "continue"
	}
}

// GovernInput is the snapshot a governance decision is made from.
type GovernInput struct {
	// Cost is cumulative spend; Budget and HILCount are the configured
	// ceilings. A zero ceiling disables that ceiling's check.
	Cost       float64
	Budget     float64
	Iterations int
	HILCount   int
	// HILRequested is the sticky external check flag.
	HILRequested bool
	// ApprovedCost and ApprovedIterations record the spend and iteration
	// count at the moment of the last human approval. Threshold checks fire
	// only past the watermark, so an approval always buys at least one more
	// iteration instead of re-pausing on the same numbers.
	ApprovedCost       float64
	ApprovedIterations int
}

// Govern decides whether a human-in-the-loop pause is required before the
// next iteration. Pure function, no side effects.
//
// pause-requested takes priority over pause-threshold. The threshold fires
// when cost has reached the budget ceiling or the iteration count is a
// multiple of HILCount, and the figure has moved past the approval
// watermark. Both checks run only between iterations, so the iteration that
// crosses a line always completes in full first.
func Govern(in GovernInput) Decision {
	if in.HILRequested {
		return DecisionPauseRequested
	}
	if in.Budget > 0 && in.Cost >= in.Budget && in.Cost > in.ApprovedCost {
		return DecisionPauseThreshold
	}
	if in.HILCount > 0 && in.Iterations > 0 && in.Iterations%in.HILCount == 0 &&
		in.Iterations > in.ApprovedIterations {
		return DecisionPauseThreshold
	}
	return DecisionContinue
}
