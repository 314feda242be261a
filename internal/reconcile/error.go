package reconcile

import (
	"fmt"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Actions a reconcile step can fail in.
const (
	ActionGet    = "get"
	ActionList   = "list"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionAwait  = "await"
)

// Error is a failed create, update or lookup of one resource. Provider
// fields are empty when the failure did not come from a provider response.
type Error struct {
	Kind            ir.Kind
	Name            string
	Action          string
	ProviderCode    string
	ProviderMessage string
	RequestID       string
	Err             error
}

func newError(kind ir.Kind, name, action string, err error) *Error {
	e := &Error{Kind: kind, Name: name, Action: action, Err: err}
	if pe := provider.AsProviderError(err); pe != nil {
		e.ProviderCode = pe.Code
		e.ProviderMessage = pe.Message
		e.RequestID = pe.RequestID
	}
	return e
}

func (e *Error) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("%s %s %q failed: %s: %s", e.Action, e.Kind, e.Name, e.ProviderCode, e.ProviderMessage)
	}
	return fmt.Sprintf("%s %s %q failed: %v", e.Action, e.Kind, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
