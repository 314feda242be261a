package awsfake

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"maps"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

type function struct {
	cfg         types.FunctionConfiguration
	tags        map[string]string
	policy      map[string]provider.Permission
	settleAfter int
}

type mapping struct {
	cfg         types.EventSourceMappingConfiguration
	enabled     bool
	settleAfter int
}

// Lambda is the fake function service. New functions start Pending and
// settle after ActivateAfter reads; updates settle the same way.
type Lambda struct {
	cloud *Cloud
	mu    sync.Mutex
	ids   ids

	functions map[string]*function
	mappings  map[string]*mapping

	// ActivateAfter is the number of GetFunction calls a create or update
	// stays in progress for.
	ActivateAfter int

	// FailActivations makes that many subsequent creates settle in the
	// Failed state.
	FailActivations int
}

var _ provider.LambdaAPI = (*Lambda)(nil)

func newLambda(c *Cloud) *Lambda {
	return &Lambda{
		cloud:         c,
		functions:     make(map[string]*function),
		mappings:      make(map[string]*mapping),
		ActivateAfter: 1,
	}
}

// CodeSha256 is how the service fingerprints a deployment package.
func CodeSha256(zip []byte) string {
	sum := sha256.Sum256(zip)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Seed installs an already active function, as if created outside fnstack.
func (l *Lambda) Seed(cfg types.FunctionConfiguration, tags map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := aws.ToString(cfg.FunctionName)
	if cfg.FunctionArn == nil {
		cfg.FunctionArn = aws.String(l.cloud.arn("lambda", "function:"+name))
	}
	cfg.State = types.StateActive
	cfg.LastUpdateStatus = types.LastUpdateStatusSuccessful
	l.functions[name] = &function{cfg: cfg, tags: maps.Clone(tags), policy: map[string]provider.Permission{}}
}

// SetStatus forces the lifecycle fields of a function.
func (l *Lambda) SetStatus(name string, state types.State, update types.LastUpdateStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.functions[name]; ok {
		f.cfg.State = state
		f.cfg.LastUpdateStatus = update
		f.settleAfter = 0
	}
}

// Function returns a copy of the stored configuration.
func (l *Lambda) Function(name string) (types.FunctionConfiguration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.functions[name]
	if !ok {
		return types.FunctionConfiguration{}, false
	}
	return f.cfg, true
}

// Tags returns the stored tags of a function.
func (l *Lambda) Tags(name string) map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.functions[name]; ok {
		return maps.Clone(f.tags)
	}
	return nil
}

// Permissions returns the statement ids on a function's policy.
func (l *Lambda) Permissions(name string) map[string]provider.Permission {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.functions[name]; ok {
		return maps.Clone(f.policy)
	}
	return nil
}

// Mappings returns every event source mapping.
func (l *Lambda) Mappings() []types.EventSourceMappingConfiguration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.EventSourceMappingConfiguration
	for _, m := range l.mappings {
		out = append(out, m.cfg)
	}
	return out
}

func (l *Lambda) lookup(name *string) (*function, error) {
	n := aws.ToString(name)
	for key, f := range l.functions {
		if key == n || aws.ToString(f.cfg.FunctionArn) == n {
			return f, nil
		}
	}
	return nil, resourceNotFound("Function not found: %s", n)
}

func (l *Lambda) GetFunction(_ context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	if err := l.cloud.call("lambda.GetFunction"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	cfg := f.cfg
	if f.settleAfter > 0 {
		f.settleAfter--
		if f.settleAfter == 0 {
			if f.cfg.State == types.StatePending {
				f.cfg.State = types.StateActive
			}
			if f.cfg.LastUpdateStatus == types.LastUpdateStatusInProgress {
				f.cfg.LastUpdateStatus = types.LastUpdateStatusSuccessful
			}
		}
	}
	return &lambda.GetFunctionOutput{Configuration: &cfg, Tags: maps.Clone(f.tags)}, nil
}

func (l *Lambda) CreateFunction(_ context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if err := l.cloud.call("lambda.CreateFunction"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	name := aws.ToString(in.FunctionName)
	if _, ok := l.functions[name]; ok {
		return nil, conflict("ResourceConflictException", "Function already exist: %s", name)
	}

	cfg := types.FunctionConfiguration{
		FunctionName:     aws.String(name),
		FunctionArn:      aws.String(l.cloud.arn("lambda", "function:"+name)),
		Runtime:          in.Runtime,
		Handler:          in.Handler,
		Role:             in.Role,
		Description:      in.Description,
		Timeout:          in.Timeout,
		MemorySize:       in.MemorySize,
		CodeSha256:       aws.String(codeSha(in.Code)),
		State:            types.StatePending,
		LastUpdateStatus: types.LastUpdateStatusInProgress,
	}
	if in.Environment != nil {
		cfg.Environment = &types.EnvironmentResponse{Variables: maps.Clone(in.Environment.Variables)}
	}
	if in.TracingConfig != nil {
		cfg.TracingConfig = &types.TracingConfigResponse{Mode: in.TracingConfig.Mode}
	}
	for _, arn := range in.Layers {
		cfg.Layers = append(cfg.Layers, types.Layer{Arn: aws.String(arn)})
	}

	f := &function{cfg: cfg, tags: maps.Clone(in.Tags), policy: map[string]provider.Permission{}}
	if f.tags == nil {
		f.tags = map[string]string{}
	}
	if l.FailActivations > 0 {
		l.FailActivations--
		f.cfg.State = types.StateFailed
		f.cfg.LastUpdateStatus = types.LastUpdateStatusFailed
		f.cfg.StateReason = aws.String("InvalidImage")
	} else if l.ActivateAfter > 0 {
		f.settleAfter = l.ActivateAfter
	} else {
		f.cfg.State = types.StateActive
		f.cfg.LastUpdateStatus = types.LastUpdateStatusSuccessful
	}
	l.functions[name] = f

	return &lambda.CreateFunctionOutput{
		FunctionName:     f.cfg.FunctionName,
		FunctionArn:      f.cfg.FunctionArn,
		Runtime:          f.cfg.Runtime,
		Handler:          f.cfg.Handler,
		Role:             f.cfg.Role,
		CodeSha256:       f.cfg.CodeSha256,
		State:            types.StatePending,
		LastUpdateStatus: types.LastUpdateStatusInProgress,
	}, nil
}

func codeSha(code *types.FunctionCode) string {
	if code == nil {
		return ""
	}
	if len(code.ZipFile) > 0 {
		return CodeSha256(code.ZipFile)
	}
	return CodeSha256([]byte(aws.ToString(code.S3Bucket) + "/" + aws.ToString(code.S3Key)))
}

func (l *Lambda) startUpdate(f *function) {
	f.cfg.LastUpdateStatus = types.LastUpdateStatusInProgress
	f.settleAfter = l.ActivateAfter
	if f.settleAfter == 0 {
		f.cfg.LastUpdateStatus = types.LastUpdateStatusSuccessful
	}
}

func (l *Lambda) UpdateFunctionConfiguration(_ context.Context, in *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	if err := l.cloud.call("lambda.UpdateFunctionConfiguration"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	if f.cfg.LastUpdateStatus == types.LastUpdateStatusInProgress {
		return nil, conflict("ResourceConflictException", "An update is in progress for resource: %s", aws.ToString(f.cfg.FunctionArn))
	}
	if in.Runtime != "" {
		f.cfg.Runtime = in.Runtime
	}
	if in.Handler != nil {
		f.cfg.Handler = in.Handler
	}
	if in.Role != nil {
		f.cfg.Role = in.Role
	}
	if in.Description != nil {
		f.cfg.Description = in.Description
	}
	if in.Timeout != nil {
		f.cfg.Timeout = in.Timeout
	}
	if in.MemorySize != nil {
		f.cfg.MemorySize = in.MemorySize
	}
	if in.Environment != nil {
		f.cfg.Environment = &types.EnvironmentResponse{Variables: maps.Clone(in.Environment.Variables)}
	}
	if in.TracingConfig != nil {
		f.cfg.TracingConfig = &types.TracingConfigResponse{Mode: in.TracingConfig.Mode}
	}
	if in.Layers != nil {
		f.cfg.Layers = nil
		for _, arn := range in.Layers {
			f.cfg.Layers = append(f.cfg.Layers, types.Layer{Arn: aws.String(arn)})
		}
	}
	l.startUpdate(f)
	return &lambda.UpdateFunctionConfigurationOutput{
		FunctionName:     f.cfg.FunctionName,
		FunctionArn:      f.cfg.FunctionArn,
		State:            f.cfg.State,
		LastUpdateStatus: f.cfg.LastUpdateStatus,
	}, nil
}

func (l *Lambda) UpdateFunctionCode(_ context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	if err := l.cloud.call("lambda.UpdateFunctionCode"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	if f.cfg.LastUpdateStatus == types.LastUpdateStatusInProgress {
		return nil, conflict("ResourceConflictException", "An update is in progress for resource: %s", aws.ToString(f.cfg.FunctionArn))
	}
	f.cfg.CodeSha256 = aws.String(codeSha(&types.FunctionCode{ZipFile: in.ZipFile, S3Bucket: in.S3Bucket, S3Key: in.S3Key}))
	l.startUpdate(f)
	return &lambda.UpdateFunctionCodeOutput{
		FunctionName:     f.cfg.FunctionName,
		FunctionArn:      f.cfg.FunctionArn,
		CodeSha256:       f.cfg.CodeSha256,
		LastUpdateStatus: f.cfg.LastUpdateStatus,
	}, nil
}

func (l *Lambda) DeleteFunction(_ context.Context, in *lambda.DeleteFunctionInput, _ ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	if err := l.cloud.call("lambda.DeleteFunction"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	delete(l.functions, aws.ToString(f.cfg.FunctionName))
	return &lambda.DeleteFunctionOutput{}, nil
}

func (l *Lambda) TagResource(_ context.Context, in *lambda.TagResourceInput, _ ...func(*lambda.Options)) (*lambda.TagResourceOutput, error) {
	if err := l.cloud.call("lambda.TagResource"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.Resource)
	if err != nil {
		return nil, err
	}
	maps.Copy(f.tags, in.Tags)
	return &lambda.TagResourceOutput{}, nil
}

func (l *Lambda) UntagResource(_ context.Context, in *lambda.UntagResourceInput, _ ...func(*lambda.Options)) (*lambda.UntagResourceOutput, error) {
	if err := l.cloud.call("lambda.UntagResource"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.Resource)
	if err != nil {
		return nil, err
	}
	for _, k := range in.TagKeys {
		delete(f.tags, k)
	}
	return &lambda.UntagResourceOutput{}, nil
}

func (l *Lambda) AddPermission(_ context.Context, in *lambda.AddPermissionInput, _ ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	if err := l.cloud.call("lambda.AddPermission"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	sid := aws.ToString(in.StatementId)
	if _, ok := f.policy[sid]; ok {
		return nil, conflict("ResourceConflictException", "The statement id (%s) provided already exists", sid)
	}
	f.policy[sid] = provider.Permission{
		StatementID:   sid,
		Principal:     aws.ToString(in.Principal),
		SourceArn:     aws.ToString(in.SourceArn),
		SourceAccount: aws.ToString(in.SourceAccount),
	}
	return &lambda.AddPermissionOutput{}, nil
}

func (l *Lambda) RemovePermission(_ context.Context, in *lambda.RemovePermissionInput, _ ...func(*lambda.Options)) (*lambda.RemovePermissionOutput, error) {
	if err := l.cloud.call("lambda.RemovePermission"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	sid := aws.ToString(in.StatementId)
	if _, ok := f.policy[sid]; !ok {
		return nil, resourceNotFound("No policy is found for: %s", sid)
	}
	delete(f.policy, sid)
	return &lambda.RemovePermissionOutput{}, nil
}

func (l *Lambda) ListEventSourceMappings(_ context.Context, in *lambda.ListEventSourceMappingsInput, _ ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	if err := l.cloud.call("lambda.ListEventSourceMappings"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := &lambda.ListEventSourceMappingsOutput{}
	var fnArn string
	if in.FunctionName != nil {
		f, err := l.lookup(in.FunctionName)
		if err != nil {
			return nil, err
		}
		fnArn = aws.ToString(f.cfg.FunctionArn)
	}
	for _, id := range sortedKeys(l.mappings) {
		m := l.mappings[id]
		if fnArn != "" && aws.ToString(m.cfg.FunctionArn) != fnArn {
			continue
		}
		if in.EventSourceArn != nil && aws.ToString(m.cfg.EventSourceArn) != aws.ToString(in.EventSourceArn) {
			continue
		}
		out.EventSourceMappings = append(out.EventSourceMappings, m.cfg)
	}
	return out, nil
}

func (l *Lambda) GetEventSourceMapping(_ context.Context, in *lambda.GetEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.GetEventSourceMappingOutput, error) {
	if err := l.cloud.call("lambda.GetEventSourceMapping"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := aws.ToString(in.UUID)
	m, ok := l.mappings[id]
	if !ok {
		return nil, resourceNotFound("The resource you requested does not exist: %s", id)
	}
	if m.settleAfter > 0 {
		m.settleAfter--
	}
	if m.settleAfter == 0 {
		switch aws.ToString(m.cfg.State) {
		case "Creating", "Enabling", "Disabling":
			m.cfg.State = aws.String(map[bool]string{true: "Enabled", false: "Disabled"}[m.enabled])
		case "Deleting":
			delete(l.mappings, id)
			return nil, resourceNotFound("The resource you requested does not exist: %s", id)
		}
	}
	cfg := m.cfg
	return &lambda.GetEventSourceMappingOutput{
		UUID:             cfg.UUID,
		EventSourceArn:   cfg.EventSourceArn,
		FunctionArn:      cfg.FunctionArn,
		State:            cfg.State,
		BatchSize:        cfg.BatchSize,
		StartingPosition: cfg.StartingPosition,
	}, nil
}

func (l *Lambda) CreateEventSourceMapping(_ context.Context, in *lambda.CreateEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error) {
	if err := l.cloud.call("lambda.CreateEventSourceMapping"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	for _, m := range l.mappings {
		if aws.ToString(m.cfg.EventSourceArn) == aws.ToString(in.EventSourceArn) && aws.ToString(m.cfg.FunctionArn) == aws.ToString(f.cfg.FunctionArn) {
			return nil, conflict("ResourceConflictException", "An event source mapping with this function and source already exists (%s)", aws.ToString(m.cfg.UUID))
		}
	}
	id := l.ids.new("esm-")
	m := &mapping{
		cfg: types.EventSourceMappingConfiguration{
			UUID:             aws.String(id),
			EventSourceArn:   in.EventSourceArn,
			FunctionArn:      f.cfg.FunctionArn,
			State:            aws.String("Creating"),
			BatchSize:        in.BatchSize,
			StartingPosition: in.StartingPosition,
		},
		enabled:     in.Enabled == nil || *in.Enabled,
		settleAfter: l.ActivateAfter,
	}
	l.mappings[id] = m
	return &lambda.CreateEventSourceMappingOutput{
		UUID:           m.cfg.UUID,
		EventSourceArn: m.cfg.EventSourceArn,
		FunctionArn:    m.cfg.FunctionArn,
		State:          m.cfg.State,
		BatchSize:      m.cfg.BatchSize,
	}, nil
}

func (l *Lambda) DeleteEventSourceMapping(_ context.Context, in *lambda.DeleteEventSourceMappingInput, _ ...func(*lambda.Options)) (*lambda.DeleteEventSourceMappingOutput, error) {
	if err := l.cloud.call("lambda.DeleteEventSourceMapping"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := aws.ToString(in.UUID)
	m, ok := l.mappings[id]
	if !ok {
		return nil, resourceNotFound("The resource you requested does not exist: %s", id)
	}
	m.cfg.State = aws.String("Deleting")
	m.settleAfter = l.ActivateAfter
	if m.settleAfter == 0 {
		delete(l.mappings, id)
	}
	return &lambda.DeleteEventSourceMappingOutput{UUID: m.cfg.UUID, State: m.cfg.State}, nil
}
