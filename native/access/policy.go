package access

import "errors"

// ErrUnauthorized marks calls made by an account other than the party the
// operation requires.
var ErrUnauthorized = errors.New("access: unauthorized caller")

// Policy authorises callers for escrow operations. Party checks compare the
// caller against the account recorded on a transaction; the controller check
// gates the protocol fee sweep.
type Policy struct {
	controller [20]byte
}

// NewPolicy constructs a policy with the provided protocol controller.
func NewPolicy(controller [20]byte) *Policy {
	return &Policy{controller: controller}
}

// Controller returns the configured protocol controller.
func (p *Policy) Controller() [20]byte {
	if p == nil {
		return [20]byte{}
	}
	return p.controller
}

// RequireParty succeeds only when caller equals the expected party.
func (p *Policy) RequireParty(caller, expected [20]byte) error {
	if caller == ([20]byte{}) || caller != expected {
		return ErrUnauthorized
	}
	return nil
}

// RequireController succeeds only when caller equals the configured
// controller. An unconfigured controller rejects everyone.
func (p *Policy) RequireController(caller [20]byte) error {
	if p == nil || p.controller == ([20]byte{}) || caller != p.controller {
		return ErrUnauthorized
	}
	return nil
}
