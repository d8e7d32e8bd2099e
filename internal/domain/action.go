package domain

import "github.com/pkg/errors"

// Action represents the discrete outcome of signal evaluation and gating.
type Action int

const (
	ActionNone Action = iota
	ActionBuy
	ActionSell
)

// action string constants to avoid magic strings
const (
	actionStringNone = "none"
	actionStringBuy  = "buy"
	actionStringSell = "sell"
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return actionStringBuy
	case ActionSell:
		return actionStringSell
	default:
		return actionStringNone
	}
}

// MarshalText encodes the action as its string form.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action from its string form.
func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case actionStringBuy:
		*a = ActionBuy
	case actionStringSell:
		*a = ActionSell
	case actionStringNone, "":
		*a = ActionNone
	default:
		return errors.Errorf("unknown action %q", string(text))
	}
	return nil
}
