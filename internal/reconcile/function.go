package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/poll"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// FunctionInput is everything the function kind needs beyond the spec.
type FunctionInput struct {
	Spec    ir.Spec
	RoleArn string
	Code    Code

	// PriorSource is Code.Source() of the previous deploy. S3 packages
	// carry no content hash, so a changed location is the only signal.
	PriorSource string
}

// FunctionState is the live configuration and tags of a function.
type FunctionState struct {
	Config types.FunctionConfiguration
	Tags   map[string]string
}

// Arn returns the function ARN.
func (s FunctionState) Arn() string { return aws.ToString(s.Config.FunctionArn) }

// Busy reports whether the function is mid-operation and cannot accept a
// delete or another update.
func (s FunctionState) Busy() bool {
	return s.Config.State == types.StatePending || s.Config.LastUpdateStatus == types.LastUpdateStatusInProgress
}

// Failed reports a create or update that ended in a failure state.
func (s FunctionState) Failed() bool {
	return s.Config.State == types.StateFailed || s.Config.LastUpdateStatus == types.LastUpdateStatusFailed
}

func (s FunctionState) String() string {
	return fmt.Sprintf("%s(state=%s, lastUpdate=%s)", aws.ToString(s.Config.FunctionName), s.Config.State, s.Config.LastUpdateStatus)
}

// Fields updated through UpdateFunctionCode rather than configuration.
const (
	fieldCodeSha256 = "codeSha256"
	fieldCodeSource = "codeSource"
)

// rolePropagationAttempts bounds retries of a create rejected because a
// freshly created role is not assumable yet.
const rolePropagationAttempts = 20

// Functions reconciles compute functions.
type Functions struct {
	api      provider.LambdaAPI
	interval time.Duration
	attempts int
	timeout  time.Duration
}

// NewFunctions returns the function kind. Activation waits use the
// configured attempt budget; deletion waits use the delete timeout.
func NewFunctions(api provider.LambdaAPI, cfg config.Config) *Functions {
	return &Functions{
		api:      api,
		interval: cfg.PollInterval,
		attempts: cfg.ActivationAttempts,
		timeout:  cfg.DeleteTimeout,
	}
}

var (
	_ Kind[FunctionInput, FunctionState] = (*Functions)(nil)
	_ Awaiter[FunctionState]             = (*Functions)(nil)
)

func (f *Functions) Name() ir.Kind { return ir.KindFunction }

func (f *Functions) Key(d FunctionInput) string { return d.Spec.Name }

func (f *Functions) ID(s FunctionState) string { return aws.ToString(s.Config.FunctionName) }

func (f *Functions) Get(ctx context.Context, name string) (FunctionState, bool, error) {
	out, err := f.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		if provider.IsNotFound(err) {
			return FunctionState{}, false, nil
		}
		return FunctionState{}, false, err
	}
	s := FunctionState{Tags: out.Tags}
	if out.Configuration != nil {
		s.Config = *out.Configuration
	}
	return s, true, nil
}

func (f *Functions) Mutable(d FunctionInput) map[string]string {
	spec := d.Spec
	m := map[string]string{
		"runtime":     spec.Runtime,
		"handler":     spec.Handler,
		"role":        d.RoleArn,
		"environment": envString(spec.Environment),
		"layers":      strings.Join(spec.Layers, ","),
	}
	if spec.Description != "" {
		m["description"] = spec.Description
	}
	if spec.MemorySize > 0 {
		m["memorySize"] = strconv.Itoa(int(spec.MemorySize))
	}
	if spec.Timeout > 0 {
		m["timeout"] = strconv.Itoa(int(spec.Timeout))
	}
	if spec.Tracing != "" {
		m["tracing"] = spec.Tracing
	}
	switch {
	case !d.Code.IsS3():
		m[fieldCodeSha256] = d.Code.Sha256
	case d.Code.Source() != d.PriorSource:
		m[fieldCodeSource] = d.Code.Source()
	}
	return m
}

func (f *Functions) MutableOf(s FunctionState) map[string]string {
	c := s.Config
	m := map[string]string{
		"runtime":       string(c.Runtime),
		"handler":       aws.ToString(c.Handler),
		"role":          aws.ToString(c.Role),
		"description":   aws.ToString(c.Description),
		"memorySize":    strconv.Itoa(int(aws.ToInt32(c.MemorySize))),
		"timeout":       strconv.Itoa(int(aws.ToInt32(c.Timeout))),
		fieldCodeSha256: aws.ToString(c.CodeSha256),
	}
	if c.Environment != nil {
		m["environment"] = envString(c.Environment.Variables)
	}
	layers := make([]string, len(c.Layers))
	for i, l := range c.Layers {
		layers[i] = aws.ToString(l.Arn)
	}
	m["layers"] = strings.Join(layers, ",")
	if c.TracingConfig != nil {
		m["tracing"] = string(c.TracingConfig.Mode)
	}
	return m
}

func envString(env map[string]string) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(env)) {
		fmt.Fprintf(&b, "%s=%s;", k, env[k])
	}
	return b.String()
}

func (f *Functions) Create(ctx context.Context, d FunctionInput) (FunctionState, error) {
	spec := d.Spec
	in := &lambda.CreateFunctionInput{
		FunctionName: aws.String(spec.Name),
		Runtime:      types.Runtime(spec.Runtime),
		Handler:      aws.String(spec.Handler),
		Role:         aws.String(d.RoleArn),
		Code:         functionCode(d.Code),
		Layers:       spec.Layers,
	}
	if spec.Description != "" {
		in.Description = aws.String(spec.Description)
	}
	if spec.MemorySize > 0 {
		in.MemorySize = aws.Int32(spec.MemorySize)
	}
	if spec.Timeout > 0 {
		in.Timeout = aws.Int32(spec.Timeout)
	}
	if len(spec.Environment) > 0 {
		in.Environment = &types.Environment{Variables: spec.Environment}
	}
	if spec.Tracing != "" {
		in.TracingConfig = &types.TracingConfig{Mode: types.TracingMode(spec.Tracing)}
	}

	var (
		out     *lambda.CreateFunctionOutput
		refused error
		failed  error
	)
	_, err := poll.Wait(ctx, func(ctx context.Context) (struct{}, bool, error) {
		o, err := f.api.CreateFunction(ctx, in)
		switch {
		case err == nil:
			out = o
			return struct{}{}, true, nil
		case isRolePropagation(err):
			refused = err
			logging.Debug("role not assumable yet, retrying create", "name", spec.Name)
			return struct{}{}, false, nil
		default:
			failed = err
			return struct{}{}, false, err
		}
	}, poll.Options[struct{}]{
		Interval: f.interval,
		Attempts: rolePropagationAttempts,
		Terminal: func(_ struct{}, created bool) bool { return created },
		Subject:  "create function " + spec.Name,
	})
	switch {
	case failed != nil:
		return FunctionState{}, failed
	case errors.Is(err, poll.ErrTimeout) && refused != nil:
		return FunctionState{}, refused
	case err != nil:
		return FunctionState{}, err
	}
	return FunctionState{Config: types.FunctionConfiguration{
		FunctionName:     out.FunctionName,
		FunctionArn:      out.FunctionArn,
		Runtime:          out.Runtime,
		Handler:          out.Handler,
		Role:             out.Role,
		CodeSha256:       out.CodeSha256,
		State:            out.State,
		LastUpdateStatus: out.LastUpdateStatus,
	}}, nil
}

func isRolePropagation(err error) bool {
	pe := provider.AsProviderError(err)
	return pe != nil && pe.Code == "InvalidParameterValueException" && strings.Contains(pe.Message, "cannot be assumed")
}

func functionCode(c Code) *types.FunctionCode {
	if c.IsS3() {
		return &types.FunctionCode{S3Bucket: aws.String(c.S3Bucket), S3Key: aws.String(c.S3Key)}
	}
	return &types.FunctionCode{ZipFile: c.Zip}
}

// Update applies configuration changes first, then code changes, waiting
// for each to settle since the service rejects overlapping updates.
func (f *Functions) Update(ctx context.Context, current FunctionState, d FunctionInput, changes Changes) (FunctionState, error) {
	name := aws.ToString(current.Config.FunctionName)
	state := current
	var err error
	if state.Busy() {
		if state, err = f.Await(ctx, state); err != nil {
			return state, err
		}
	}

	configChanged := false
	for _, ch := range changes {
		if ch.Field != fieldCodeSha256 && ch.Field != fieldCodeSource {
			configChanged = true
		}
	}

	if configChanged {
		spec := d.Spec
		in := &lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(name),
			Runtime:      types.Runtime(spec.Runtime),
			Handler:      aws.String(spec.Handler),
			Role:         aws.String(d.RoleArn),
			Environment:  &types.Environment{Variables: spec.Environment},
			Layers:       spec.Layers,
		}
		if in.Layers == nil {
			in.Layers = []string{}
		}
		if spec.Description != "" {
			in.Description = aws.String(spec.Description)
		}
		if spec.MemorySize > 0 {
			in.MemorySize = aws.Int32(spec.MemorySize)
		}
		if spec.Timeout > 0 {
			in.Timeout = aws.Int32(spec.Timeout)
		}
		if spec.Tracing != "" {
			in.TracingConfig = &types.TracingConfig{Mode: types.TracingMode(spec.Tracing)}
		}
		if _, err := f.api.UpdateFunctionConfiguration(ctx, in); err != nil {
			return state, fmt.Errorf("update configuration: %w", err)
		}
		if state, err = f.await(ctx, name); err != nil {
			return state, err
		}
	}

	if changes.HasAny(fieldCodeSha256, fieldCodeSource) {
		in := &lambda.UpdateFunctionCodeInput{FunctionName: aws.String(name)}
		if d.Code.IsS3() {
			in.S3Bucket = aws.String(d.Code.S3Bucket)
			in.S3Key = aws.String(d.Code.S3Key)
		} else {
			in.ZipFile = d.Code.Zip
		}
		if _, err := f.api.UpdateFunctionCode(ctx, in); err != nil {
			return state, fmt.Errorf("update code: %w", err)
		}
		if state, err = f.await(ctx, name); err != nil {
			return state, err
		}
	}
	return state, nil
}

// Await polls until the function is Active with no update in progress.
func (f *Functions) Await(ctx context.Context, s FunctionState) (FunctionState, error) {
	return f.await(ctx, aws.ToString(s.Config.FunctionName))
}

func (f *Functions) await(ctx context.Context, name string) (FunctionState, error) {
	return poll.Wait(ctx, func(ctx context.Context) (FunctionState, bool, error) {
		return f.Get(ctx, name)
	}, poll.Options[FunctionState]{
		Interval: f.interval,
		Attempts: f.attempts,
		Subject:  "function " + name,
		Terminal: func(s FunctionState, found bool) bool {
			return found && s.Config.State == types.StateActive && !s.Busy()
		},
		Failure: func(s FunctionState, found bool) bool {
			return found && s.Failed()
		},
	})
}

// Delete removes the function and waits until it is gone. A function that
// no longer exists is not an error.
func (f *Functions) Delete(ctx context.Context, name string) error {
	_, err := f.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		if provider.IsNotFound(err) {
			return nil
		}
		return err
	}
	_, err = poll.Wait(ctx, func(ctx context.Context) (FunctionState, bool, error) {
		return f.Get(ctx, name)
	}, poll.Options[FunctionState]{
		Interval: f.interval,
		Timeout:  f.timeout,
		Subject:  "function " + name + " deletion",
		Terminal: poll.Gone[FunctionState],
	})
	return err
}

// IsActivationFailure reports whether err is a create that settled in a
// failure state, the one case a delete and recreate can fix.
func IsActivationFailure(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Action == ActionAwait && errors.Is(err, poll.ErrFailed)
}
