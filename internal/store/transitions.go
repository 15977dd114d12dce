package store

import "github.com/turnordoficial-hash/turnord02/internal/models"

const (
	ActionPromote = "promote"
	ActionPay     = "pay"
	ActionCancel  = "cancel"
	ActionReturn  = "return"
	ActionNoShow  = "no_show"
)

var transitionMap = map[string][]string{
	ActionPromote: {models.StateWaiting},
	ActionPay:     {models.StateServing},
	ActionCancel:  {models.StateWaiting},
	ActionReturn:  {models.StateServing},
	ActionNoShow:  {models.StateWaiting, models.StateServing},
}

var targetMap = map[string]string{
	ActionPromote: models.StateServing,
	ActionPay:     models.StatePaid,
	ActionCancel:  models.StateCancelled,
	ActionReturn:  models.StateWaiting,
	ActionNoShow:  models.StateNoShow,
}

func ValidTransition(action, fromState string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == fromState {
			return true
		}
	}
	return false
}

// SourceStates returns the states an action may be applied from.
func SourceStates(action string) []string {
	allowed := transitionMap[action]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

// TargetState returns the state an action moves a ticket into.
func TargetState(action string) (string, bool) {
	state, ok := targetMap[action]
	return state, ok
}
