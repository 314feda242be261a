package aws

import (
	"errors"
	"fmt"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// ProviderError is the uniform shape of a failed provider call.
type ProviderError struct {
	Code      string
	Message   string
	RequestID string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request id %s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AsProviderError extracts code, message and request id from err. It returns
// nil when err did not come from a provider response.
func AsProviderError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return nil
	}
	out := &ProviderError{Code: ae.ErrorCode(), Message: ae.ErrorMessage(), Err: err}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		out.RequestID = re.ServiceRequestID()
	}
	return out
}

// ErrorCode returns the provider error code of err, or "".
func ErrorCode(err error) string {
	if pe := AsProviderError(err); pe != nil {
		return pe.Code
	}
	return ""
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException": true,
	"NotFoundException":         true,
	"NoSuchEntity":              true,
	"NoSuchBucket":              true,
	"TargetGroupNotFound":       true,
	"RuleNotFound":              true,
	"ListenerNotFound":          true,
	"QueueDoesNotExist":         true,
	"NotFound":                  true,

	"AWS.SimpleQueueService.NonExistentQueue": true,
}

var conflictCodes = map[string]bool{
	"ResourceConflictException":      true,
	"ResourceAlreadyExistsException": true,
	"ConflictException":              true,
	"EntityAlreadyExists":            true,
	"DuplicateTargetGroupName":       true,
}

// IsNotFound reports whether err says the addressed entity does not exist.
func IsNotFound(err error) bool {
	return notFoundCodes[ErrorCode(err)]
}

// IsConflict reports whether err says the entity already exists or is
// being modified.
func IsConflict(err error) bool {
	return conflictCodes[ErrorCode(err)]
}

// NewError builds a provider-shaped error. Fakes use it to mimic service
// responses.
func NewError(code, format string, args ...any) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...)}
}
