package recurrence

import "fmt"

// RecurrenceError reports a malformed or unsupported recurrence definition.
// It is non-fatal by contract: the materializer treats it as "zero future
// instances" and surfaces a retryable condition instead of crashing.
type RecurrenceError struct {
	// Rule is the offending rule text, when known.
	Rule   string
	Reason string
	Err    error
}

func (e *RecurrenceError) Error() string {
	msg := "recurrence: " + e.Reason
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule %q)", e.Rule)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecurrenceError) Unwrap() error { return e.Err }
