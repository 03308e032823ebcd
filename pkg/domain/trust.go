package domain

import "fmt"

// TrustState is the explicit sender trust state. A record that is both
// blocked and verified resolves to blocked.
type TrustState string

const (
	TrustPending  TrustState = "pending"
	TrustVerified TrustState = "verified"
	TrustBlocked  TrustState = "blocked"
)

// State resolves the boolean pair into a single state; blocked wins.
func (r TrustRecord) State() TrustState {
	switch {
	case r.Blocked:
		return TrustBlocked
	case r.Verified:
		return TrustVerified
	default:
		return TrustPending
	}
}

type TrustAction string

const (
	ActionVerify TrustAction = "verify"
	ActionBlock  TrustAction = "block"
)

// ParseTrustAction maps an admin-supplied action string to a TrustAction.
func ParseTrustAction(s string) (TrustAction, bool) {
	switch TrustAction(s) {
	case ActionVerify:
		return ActionVerify, true
	case ActionBlock:
		return ActionBlock, true
	default:
		return "", false
	}
}

// Decide applies an admin action to a trust state. alreadyDone reports that
// the target state was already set (repeat decisions are no-ops). Cross
// transitions out of a terminal state are rejected so the verified+blocked
// combination stays unreachable.
func Decide(state TrustState, action TrustAction) (next TrustState, alreadyDone bool, err error) {
	switch action {
	case ActionVerify:
		switch state {
		case TrustPending:
			return TrustVerified, false, nil
		case TrustVerified:
			return TrustVerified, true, nil
		case TrustBlocked:
			return TrustBlocked, false, fmt.Errorf("cannot verify a blocked sender")
		}
	case ActionBlock:
		switch state {
		case TrustPending:
			return TrustBlocked, false, nil
		case TrustBlocked:
			return TrustBlocked, true, nil
		case TrustVerified:
			return TrustVerified, false, fmt.Errorf("cannot block a verified sender")
		}
	}
	return state, false, fmt.Errorf("unknown trust action %q", action)
}
