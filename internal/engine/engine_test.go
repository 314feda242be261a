package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
	"github.com/picklr-io/fnstack/providers/aws/awsfake"
)

type fixture struct {
	cloud  *awsfake.Cloud
	engine *Engine
	code   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.Default()
	cfg.PollInterval = time.Millisecond
	cfg.ActivationAttempts = 20
	cfg.DeleteTimeout = time.Second

	code := filepath.Join(t.TempDir(), "fn.zip")
	require.NoError(t, os.WriteFile(code, []byte("v1"), 0o600))

	cloud := awsfake.New("us-east-1", "123456789012")
	return fixture{cloud: cloud, engine: New(cfg, cloud.Clients()), code: code}
}

func (f fixture) spec(name string) ir.Spec {
	return ir.Spec{
		Name:       name,
		Runtime:    "python3.12",
		Handler:    "app.handler",
		MemorySize: 128,
		Code:       ir.CodeSpec{Path: f.code},
	}
}

func (f fixture) deploy(t *testing.T, spec ir.Spec, prior *ir.Record) *ir.Record {
	t.Helper()
	rec, err := f.engine.Deploy(context.Background(), spec, prior)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func timer(name, schedule string) ir.TriggerSpec {
	return ir.TriggerSpec{Kind: ir.TriggerTimer, Name: name, Timer: &ir.TimerSpec{Schedule: schedule}}
}

func route(name, service, method, path string) ir.TriggerSpec {
	return ir.TriggerSpec{
		Kind: ir.TriggerGateway,
		Name: name,
		Gateway: &ir.GatewaySpec{
			Service: ir.GatewayServiceSpec{Name: service},
			Method:  method,
			Path:    path,
		},
	}
}

func fullSpec(f fixture) ir.Spec {
	spec := f.spec("f1")
	spec.LogRetentionDays = 14
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}}
	orders := route("orders", "shop", "GET", "/orders")
	orders.Gateway.UsagePlan = &ir.UsagePlanSpec{Name: "basic", RateLimit: 10, BurstLimit: 5, APIKey: "partner"}
	spec.Triggers = []ir.TriggerSpec{timer("nightly", "rate(1 day)"), orders}
	return spec
}

func TestDeployWalksPhasesAndRecords(t *testing.T) {
	f := newFixture(t)
	var phases []Phase
	rec, err := f.engine.DeployWithCallback(context.Background(), fullSpec(f), nil, func(ev Event) {
		if ev.Kind == "" {
			phases = append(phases, ev.Phase)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseInit, PhaseFunctionReconciled, PhaseTagsApplied, PhaseTriggersApplied, PhaseDone}, phases)
	assert.Equal(t, ir.RecordVersion, rec.Version)
	assert.True(t, rec.Function.CreatedByUs)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:f1", rec.FunctionArn)
	require.NotNil(t, rec.Role)
	assert.True(t, rec.Role.CreatedByUs)
	require.NotNil(t, rec.LogGroup)
	assert.True(t, rec.LogGroup.CreatedByUs)
	assert.Equal(t, []ir.Tag{{Key: "env", Value: "prod"}}, rec.Tags)
	assert.Empty(t, rec.Failures)
	assert.NotEmpty(t, rec.DeployedAt)

	require.Len(t, rec.Triggers, 2)
	assert.True(t, rec.Triggers[0].Binding.CreatedByUs)
	gw := rec.Triggers[1].Gateway
	require.NotNil(t, gw)
	assert.True(t, gw.Service.CreatedByUs)
	assert.Contains(t, gw.URL, "/release/orders")
	assert.Equal(t, map[string]string{"env": "prod"}, f.cloud.Lambda.Tags("f1"))
}

func TestRedeployIsNoop(t *testing.T) {
	f := newFixture(t)
	spec := fullSpec(f)
	first := f.deploy(t, spec, nil)

	f.cloud.Reset()
	second := f.deploy(t, spec, first)

	assert.Empty(t, f.cloud.Mutations())
	assert.Equal(t, first.Function, second.Function)
	assert.Equal(t, first.Role, second.Role)
	require.Len(t, second.Triggers, 2)
	assert.Equal(t, first.Triggers[0].Binding, second.Triggers[0].Binding)
	assert.Equal(t, first.Triggers[1].Gateway.Service, second.Triggers[1].Gateway.Service)
	assert.Equal(t, first.Triggers[1].Gateway.UsagePlan, second.Triggers[1].Gateway.UsagePlan)
}

func TestRemovedTagIsDetachedWithoutFunctionUpdate(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}}
	first := f.deploy(t, spec, nil)
	require.Equal(t, "prod", f.cloud.Lambda.Tags("f1")["env"])

	f.cloud.Reset()
	spec.Tags = nil
	second := f.deploy(t, spec, first)

	assert.Equal(t, 1, f.cloud.Count("lambda.UntagResource"))
	assert.Zero(t, f.cloud.Count("lambda.UpdateFunctionConfiguration"))
	assert.Zero(t, f.cloud.Count("lambda.UpdateFunctionCode"))
	assert.Empty(t, f.cloud.Lambda.Tags("f1"))
	assert.Empty(t, second.Tags)
}

func TestForeignTagsAreNeverDetached(t *testing.T) {
	f := newFixture(t)
	f.cloud.Lambda.Seed(lambdatypes.FunctionConfiguration{FunctionName: aws.String("f1")}, map[string]string{"owner": "ops"})
	spec := f.spec("f1")
	spec.Role = "arn:aws:iam::123456789012:role/exec"
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}}
	first := f.deploy(t, spec, nil)

	spec.Tags = nil
	f.deploy(t, spec, first)

	assert.Equal(t, map[string]string{"owner": "ops"}, f.cloud.Lambda.Tags("f1"))
}

func TestAdoptedFunctionIsNeverOwned(t *testing.T) {
	f := newFixture(t)
	f.cloud.Lambda.Seed(lambdatypes.FunctionConfiguration{FunctionName: aws.String("f1")}, nil)
	spec := f.spec("f1")
	spec.Role = "arn:aws:iam::123456789012:role/exec"

	first := f.deploy(t, spec, nil)
	assert.False(t, first.Function.CreatedByUs)
	assert.Nil(t, first.Role)
	assert.Zero(t, f.cloud.Count("lambda.CreateFunction"))

	spec.MemorySize = 256
	second := f.deploy(t, spec, first)
	assert.False(t, second.Function.CreatedByUs)
}

func TestOwnershipSurvivesUpdates(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	first := f.deploy(t, spec, nil)

	spec.MemorySize = 512
	second := f.deploy(t, spec, first)

	assert.True(t, second.Function.CreatedByUs)
	assert.Equal(t, 1, f.cloud.Count("lambda.CreateFunction"))
	assert.Equal(t, 1, f.cloud.Count("lambda.UpdateFunctionConfiguration"))
}

func TestFailedActivationRecreatesOnce(t *testing.T) {
	f := newFixture(t)
	f.cloud.Lambda.FailActivations = 1

	rec := f.deploy(t, f.spec("f1"), nil)

	assert.True(t, rec.Function.CreatedByUs)
	assert.Equal(t, 2, f.cloud.Count("lambda.CreateFunction"))
	assert.Equal(t, 1, f.cloud.Count("lambda.DeleteFunction"))
	cfg, ok := f.cloud.Lambda.Function("f1")
	require.True(t, ok)
	assert.Equal(t, lambdatypes.StateActive, cfg.State)
}

func TestFunctionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.cloud.FailNext("lambda.CreateFunction", provider.NewError("InvalidParameterValueException", "bad runtime"))
	spec := fullSpec(f)

	var last Event
	rec, err := f.engine.DeployWithCallback(context.Background(), spec, nil, func(ev Event) { last = ev })

	require.Error(t, err)
	assert.Equal(t, "InvalidParameterValueException", provider.ErrorCode(err))
	assert.Equal(t, PhaseFailed, last.Phase)
	require.NotNil(t, rec)
	assert.True(t, rec.Function.IsZero())
	require.NotNil(t, rec.Role, "the role created before the failure is recorded")
	assert.Empty(t, rec.Triggers)
	assert.Zero(t, f.cloud.Count("events.PutRule"))
}

func TestTriggerFailureIsRecoverable(t *testing.T) {
	f := newFixture(t)
	f.cloud.FailNext("events.PutRule", errors.New("throttled"))
	spec := fullSpec(f)

	rec := f.deploy(t, spec, nil)

	require.Len(t, rec.Failures, 1)
	assert.Equal(t, string(PhaseTriggersApplied), rec.Failures[0].Phase)
	assert.Equal(t, "nightly", rec.Failures[0].Name)
	require.Len(t, rec.Triggers, 1)
	assert.Equal(t, "orders", rec.Triggers[0].Name)
	assert.NotEmpty(t, rec.DeployedAt)
}

func TestTagFailureIsRecoverable(t *testing.T) {
	f := newFixture(t)
	f.cloud.FailNext("lambda.TagResource", errors.New("throttled"))
	spec := f.spec("f1")
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}}

	rec := f.deploy(t, spec, nil)

	require.Len(t, rec.Failures, 1)
	assert.Equal(t, string(PhaseTagsApplied), rec.Failures[0].Phase)
	assert.Equal(t, ir.KindFunction, rec.Failures[0].Kind)
	assert.Empty(t, rec.Tags, "nothing was attached")

	second := f.deploy(t, spec, rec)
	assert.Empty(t, second.Failures)
	assert.Equal(t, []ir.Tag{{Key: "env", Value: "prod"}}, second.Tags)
}

func TestOwnedTags(t *testing.T) {
	desired := []ir.Tag{{Key: "env", Value: "prod"}, {Key: "team", Value: "billing"}}
	tests := []struct {
		name     string
		managed  []ir.Tag
		d        tagDiff
		attached bool
		detached bool
		want     []ir.Tag
	}{
		{
			name:     "attached keys only",
			d:        tagDiff{set: map[string]string{"team": "billing"}},
			attached: true, detached: true,
			want: []ir.Tag{{Key: "team", Value: "billing"}},
		},
		{
			name:     "unchanged keys from the last deploy",
			managed:  []ir.Tag{{Key: "env", Value: "prod"}},
			d:        tagDiff{set: map[string]string{"team": "billing"}},
			attached: true, detached: true,
			want: desired,
		},
		{
			name:     "failed change keeps the old value",
			managed:  []ir.Tag{{Key: "env", Value: "dev"}},
			d:        tagDiff{set: map[string]string{"env": "prod", "team": "billing"}},
			detached: true,
			want:     []ir.Tag{{Key: "env", Value: "dev"}},
		},
		{
			name:     "failed detach is still ours",
			managed:  []ir.Tag{{Key: "tier", Value: "gold"}},
			d:        tagDiff{set: map[string]string{}, remove: []string{"tier"}},
			attached: true,
			want:     []ir.Tag{{Key: "tier", Value: "gold"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ownedTags(desired, tt.managed, tt.d, tt.attached, tt.detached))
		})
	}
}

func TestDroppedTriggerIsUnbound(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{timer("nightly", "rate(1 day)"), timer("hourly", "rate(1 hour)")}
	first := f.deploy(t, spec, nil)
	hourly := first.Triggers[1].Binding.ID

	spec.Triggers = spec.Triggers[:1]
	second := f.deploy(t, spec, first)

	require.Len(t, second.Triggers, 1)
	assert.Equal(t, "nightly", second.Triggers[0].Name)
	assert.Equal(t, 1, f.cloud.Count("events.DeleteRule"))
	_, _, found := f.cloud.Events.Rule(hourly)
	assert.False(t, found)
}

func TestCancelledDeployStopsBeforeTriggers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	spec := fullSpec(f)

	rec, err := f.engine.DeployWithCallback(ctx, spec, nil, func(ev Event) {
		if ev.Kind == "" && ev.Phase == PhaseTagsApplied {
			cancel()
		}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, rec.Function.IsZero())
	assert.Empty(t, rec.Triggers)
	assert.Empty(t, rec.DeployedAt)
}

func TestDiffTags(t *testing.T) {
	tests := []struct {
		name    string
		desired map[string]string
		live    map[string]string
		managed []ir.Tag
		set     map[string]string
		remove  []string
	}{
		{
			name:    "new and changed",
			desired: map[string]string{"env": "prod", "team": "a"},
			live:    map[string]string{"env": "dev"},
			set:     map[string]string{"env": "prod", "team": "a"},
		},
		{
			name:    "in sync",
			desired: map[string]string{"env": "prod"},
			live:    map[string]string{"env": "prod", "owner": "ops"},
			set:     map[string]string{},
		},
		{
			name:    "only managed keys are detached",
			desired: map[string]string{},
			live:    map[string]string{"env": "prod", "owner": "ops"},
			managed: []ir.Tag{{Key: "env", Value: "prod"}},
			set:     map[string]string{},
			remove:  []string{"env"},
		},
		{
			name:    "already detached",
			desired: map[string]string{},
			live:    map[string]string{},
			managed: []ir.Tag{{Key: "env", Value: "prod"}},
			set:     map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := diffTags(tt.desired, tt.live, tt.managed)
			assert.Equal(t, tt.set, d.set)
			assert.Equal(t, tt.remove, d.remove)
		})
	}
}
