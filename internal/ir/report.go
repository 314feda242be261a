package ir

import (
	"errors"
	"fmt"
)

// Teardown actions.
const (
	ActionDelete = "delete"
	ActionUnbind = "unbind"
	ActionSkip   = "skip"
)

// Outcome is the result of one teardown step. Err is nil on success.
type Outcome struct {
	Handle Handle `json:"handle"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// RemoveReport collects every teardown step in the order it was attempted.
type RemoveReport struct {
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// Add appends an outcome.
func (r *RemoveReport) Add(h Handle, action string, err error) {
	r.Outcomes = append(r.Outcomes, Outcome{Handle: h, Action: action, Err: err})
}

// Skip records a step that was deliberately not attempted.
func (r *RemoveReport) Skip(h Handle, reason string) {
	r.Outcomes = append(r.Outcomes, Outcome{Handle: h, Action: ActionSkip, Reason: reason})
}

// Failed returns the outcomes that carry an error.
func (r *RemoveReport) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Deleted returns the handles that were deleted without error.
func (r *RemoveReport) Deleted() []Handle {
	var out []Handle
	for _, o := range r.Outcomes {
		if o.Action == ActionDelete && o.Err == nil {
			out = append(out, o.Handle)
		}
	}
	return out
}

// Err joins every failed step into one error, or returns nil.
func (r *RemoveReport) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s %s %q: %w", o.Action, o.Handle.Kind, o.Handle.ID, o.Err))
	}
	return errors.Join(errs...)
}
