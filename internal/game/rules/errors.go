package rules

import (
	"errors"
	"fmt"
)

// Rule violation codes shared by domain action handlers.
const (
	CodeIllegalTarget        = "ILLEGAL_TARGET"
	CodeInsufficientResource = "INSUFFICIENT_RESOURCE"
	CodeWrongPhase           = "WRONG_PHASE"
	CodeNotYourTurn          = "NOT_YOUR_TURN"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeUnknownEntity        = "UNKNOWN_ENTITY"
)

// RuleViolation reports that an action's preconditions were not met.
// The action must not have mutated state when it returns one.
type RuleViolation struct {
	Code    string
	Message string
}

func (v *RuleViolation) Error() string {
	return fmt.Sprintf("rule violation (%s): %s", v.Code, v.Message)
}

// Reason returns the player-facing explanation.
func (v *RuleViolation) Reason() string {
	return v.Message
}

// Violation builds a RuleViolation with a formatted message.
func Violation(code, format string, args ...any) *RuleViolation {
	return &RuleViolation{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsRuleViolation reports whether err wraps a RuleViolation.
func IsRuleViolation(err error) bool {
	var v *RuleViolation
	return errors.As(err, &v)
}

// AsRuleViolation extracts the RuleViolation wrapped by err.
func AsRuleViolation(err error) (*RuleViolation, bool) {
	var v *RuleViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
