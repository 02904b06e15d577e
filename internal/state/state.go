// Package state defines the closed sets of conversation positions a
// stored identity can occupy. Both axes default to their idle value;
// unknown values read back from storage are coerced to idle so a stale
// row can never strand a user in a dead state.
package state

// Step tracks linear multi-turn input flows (e.g. "send me the token").
type Step string

const (
	StepNone           Step = "none"
	StepAwaitingToken  Step = "awaiting_token"
	StepAwaitingDelBot Step = "awaiting_delbot"
)

// Flow tracks admin menu traversal. Tenant-owner and platform-owner
// panels share the common values; the sweep/remove states are only
// ever entered by the platform machine.
type Flow string

const (
	FlowNone              Flow = "none"
	FlowPanel             Flow = "admin_panel"
	FlowAwaitingBroadcast Flow = "awaiting_broadcast"
	FlowAwaitingChannel   Flow = "awaiting_channel"
	FlowAwaitingBlock     Flow = "awaiting_block"
	FlowAwaitingUnlock    Flow = "awaiting_unlock"
	FlowAwaitingSweep     Flow = "awaiting_sweep"
	FlowAwaitingRemove    Flow = "awaiting_remove"
)

func (s Step) Valid() bool {
	switch s {
	case StepNone, StepAwaitingToken, StepAwaitingDelBot:
		return true
	}
	return false
}

func (f Flow) Valid() bool {
	switch f {
	case FlowNone, FlowPanel, FlowAwaitingBroadcast, FlowAwaitingChannel,
		FlowAwaitingBlock, FlowAwaitingUnlock, FlowAwaitingSweep, FlowAwaitingRemove:
		return true
	}
	return false
}

// NormStep returns s, or StepNone when s is not a known step.
func NormStep(s Step) Step {
	if !s.Valid() {
		return StepNone
	}
	return s
}

// NormFlow returns f, or FlowNone when f is not a known flow state.
func NormFlow(f Flow) Flow {
	if !f.Valid() {
		return FlowNone
	}
	return f
}
