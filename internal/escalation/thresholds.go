package escalation

import (
	"time"

	"cockpit/pkg/types"
)

// Reason codes for emergency calls.
const (
	ReasonTooDifficult    = "too_difficult"
	ReasonNeedExplanation = "need_explanation"
	ReasonTooFast         = "too_fast"
	ReasonDontUnderstand  = "dont_understand"
)

// Thresholds are policy constants for auto-detection. They encode product
// decisions, not protocol requirements, so they are configuration rather
// than literals.
type Thresholds struct {
	ConsecutiveFailures int
	StuckDuration       time.Duration
	AccuracyDrop        float64
	Inactivity          time.Duration
}

// DefaultThresholds returns the shipped detection policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailures: 5,
		StuckDuration:       5 * time.Minute,
		AccuracyDrop:        0.30,
		Inactivity:          2 * time.Minute,
	}
}

// rule is one detection condition with its escalation outcome.
type rule struct {
	reason   string
	delta    int
	exceeded func(Thresholds, types.ProgressMetrics) bool
}

// rules are evaluated in fixed priority order; the first match wins and
// only one call is raised per invocation.
var rules = []rule{
	{
		reason: ReasonTooDifficult,
		delta:  -1,
		exceeded: func(t Thresholds, m types.ProgressMetrics) bool {
			return m.ConsecutiveFailures >= t.ConsecutiveFailures
		},
	},
	{
		reason: ReasonNeedExplanation,
		delta:  0,
		exceeded: func(t Thresholds, m types.ProgressMetrics) bool {
			return m.TimeOnCurrentItem > t.StuckDuration
		},
	},
	{
		reason: ReasonTooFast,
		delta:  -1,
		exceeded: func(t Thresholds, m types.ProgressMetrics) bool {
			return m.AccuracyDrop >= t.AccuracyDrop
		},
	},
	{
		reason: ReasonDontUnderstand,
		delta:  0,
		exceeded: func(t Thresholds, m types.ProgressMetrics) bool {
			return m.Inactivity > t.Inactivity
		},
	},
}

// encouragementTemplates map reason codes to the automatic message sent
// alongside a new call. Unknown reasons get the generic fallback.
var encouragementTemplates = map[string]string{
	ReasonTooDifficult:    "This one is tough - your captain is on the way. Take a breath, you've got this!",
	ReasonNeedExplanation: "Stuck is just a step before understanding. Help is coming!",
	ReasonTooFast:         "Let's slow down together - your captain will walk through it with you.",
	ReasonDontUnderstand:  "No worries, everyone gets lost sometimes. Your captain is coming to help!",
}

const genericEncouragement = "Hang in there - your captain has been notified and help is on the way!"

const resolutionConfirmation = "Your captain resolved the call. Great teamwork - back to it!"

// EncouragementFor returns the template for a reason code.
func EncouragementFor(reason string) string {
	if text, ok := encouragementTemplates[reason]; ok {
		return text
	}
	return genericEncouragement
}
