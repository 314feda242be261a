package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
	"github.com/picklr-io/fnstack/providers/aws/awsfake"
)

type fixture struct {
	cloud *awsfake.Cloud
	set   *Set
	fn    provider.Target
}

func newFixture(t *testing.T, deployer GatewayDeployer) fixture {
	t.Helper()
	cloud := awsfake.New("us-east-1", "123456789012")
	cloud.Lambda.Seed(lambdatypes.FunctionConfiguration{FunctionName: aws.String("f1")}, nil)
	cfg, _ := cloud.Lambda.Function("f1")
	fn, err := provider.NewTarget("f1", aws.ToString(cfg.FunctionArn))
	require.NoError(t, err)

	c := config.Default()
	c.PollInterval = time.Millisecond
	c.ActivationAttempts = 20
	c.DeleteTimeout = time.Second
	return fixture{cloud: cloud, set: NewSet(cloud.Clients(), c, deployer), fn: fn}
}

func (f fixture) bind(t *testing.T, spec ir.TriggerSpec, prior *ir.TriggerRecord) *ir.TriggerRecord {
	t.Helper()
	rec, err := f.set.Bind(context.Background(), f.fn, spec, prior)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func off() *bool {
	b := false
	return &b
}

func timerSpec(schedule string) ir.TriggerSpec {
	return ir.TriggerSpec{Kind: ir.TriggerTimer, Name: "nightly", Timer: &ir.TimerSpec{Schedule: schedule}}
}

func TestTimerBindAndRedeploy(t *testing.T) {
	f := newFixture(t, nil)
	spec := timerSpec("rate(1 day)")
	spec.Argument = `{"job":"cleanup"}`

	rec := f.bind(t, spec, nil)
	assert.True(t, rec.Binding.CreatedByUs)
	assert.Equal(t, "timer:nightly", rec.Key)

	rule, targets, ok := f.cloud.Events.Rule(rec.Binding.ID)
	require.True(t, ok)
	assert.Equal(t, "rate(1 day)", aws.ToString(rule.ScheduleExpression))
	require.Len(t, targets, 1)
	assert.Equal(t, f.fn.Arn, aws.ToString(targets[0].Arn))
	assert.Equal(t, `{"job":"cleanup"}`, aws.ToString(targets[0].Input))
	assert.Len(t, f.cloud.Lambda.Permissions("f1"), 1)

	f.cloud.Reset()
	again := f.bind(t, spec, rec)
	assert.Empty(t, f.cloud.Mutations())
	assert.True(t, again.Binding.CreatedByUs, "ownership survives a no-op")
	assert.Equal(t, rec.Binding.ID, again.Binding.ID)
}

func TestTimerChangeReplacesBinding(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.bind(t, timerSpec("rate(1 day)"), nil)

	f.cloud.Reset()
	f.bind(t, timerSpec("rate(1 hour)"), rec)

	assert.Equal(t, 1, f.cloud.Count("events.DeleteRule"))
	assert.Equal(t, 1, f.cloud.Count("events.PutRule"))
	rule, _, ok := f.cloud.Events.Rule(rec.Binding.ID)
	require.True(t, ok)
	assert.Equal(t, "rate(1 hour)", aws.ToString(rule.ScheduleExpression))
	assert.Len(t, f.cloud.Lambda.Permissions("f1"), 1)
}

func TestTimerDisabledKeepsRule(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.bind(t, timerSpec("rate(1 day)"), nil)

	spec := timerSpec("rate(1 day)")
	spec.Enabled = off()
	disabled := f.bind(t, spec, rec)

	assert.False(t, disabled.Enabled)
	rule, _, ok := f.cloud.Events.Rule(rec.Binding.ID)
	require.True(t, ok)
	assert.Equal(t, "DISABLED", string(rule.State))
}

func storageSpec() ir.TriggerSpec {
	return ir.TriggerSpec{
		Kind: ir.TriggerStorage,
		Name: "uploads",
		Storage: &ir.StorageSpec{
			Bucket: "media",
			Events: []string{"s3:ObjectCreated:*"},
			Prefix: "incoming/",
		},
	}
}

func TestStorageMergesIntoExistingNotifications(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.S3.AddBucket("media")
	ctx := context.Background()
	_, err := f.cloud.S3.PutBucketNotificationConfiguration(ctx, putQueueNotification("media"))
	require.NoError(t, err)

	rec := f.bind(t, storageSpec(), nil)
	n := f.cloud.S3.Notifications("media")
	assert.Len(t, n.QueueConfigurations, 1, "foreign sections survive")
	require.Len(t, n.LambdaFunctionConfigurations, 1)
	assert.Equal(t, rec.Binding.ID, aws.ToString(n.LambdaFunctionConfigurations[0].Id))

	f.cloud.Reset()
	f.bind(t, storageSpec(), rec)
	assert.Empty(t, f.cloud.Mutations())
}

func TestStorageDisabledRemovesBinding(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.S3.AddBucket("media")
	rec := f.bind(t, storageSpec(), nil)

	spec := storageSpec()
	spec.Enabled = off()
	disabled := f.bind(t, spec, rec)

	assert.Empty(t, disabled.Binding.ID)
	assert.Empty(t, f.cloud.S3.Notifications("media").LambdaFunctionConfigurations)
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestStorageDisabledLeavesForeignConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.S3.AddBucket("media")
	_, err := f.cloud.S3.PutBucketNotificationConfiguration(context.Background(), &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String("media"),
		NotificationConfiguration: &s3types.NotificationConfiguration{
			LambdaFunctionConfigurations: []s3types.LambdaFunctionConfiguration{{
				Id:                aws.String("user-owned"),
				LambdaFunctionArn: aws.String(f.fn.Arn),
				Events:            []s3types.Event{"s3:ObjectCreated:*"},
				Filter: &s3types.NotificationConfigurationFilter{Key: &s3types.S3KeyFilter{
					FilterRules: []s3types.FilterRule{{Name: s3types.FilterRuleNamePrefix, Value: aws.String("incoming/")}},
				}},
			}},
		},
	})
	require.NoError(t, err)

	rec := f.bind(t, storageSpec(), nil)
	assert.Equal(t, "user-owned", rec.Binding.ID)
	assert.False(t, rec.Binding.CreatedByUs)

	spec := storageSpec()
	spec.Enabled = off()
	f.cloud.Reset()
	disabled := f.bind(t, spec, rec)

	assert.Empty(t, f.cloud.Mutations())
	assert.Equal(t, "user-owned", disabled.Binding.ID)
	assert.False(t, disabled.Binding.CreatedByUs)
	cfgs := f.cloud.S3.Notifications("media").LambdaFunctionConfigurations
	require.Len(t, cfgs, 1)
	assert.Equal(t, "user-owned", aws.ToString(cfgs[0].Id))
}

func TestStoragePartialCreateIsReleased(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.S3.AddBucket("media")
	f.cloud.FailNext("s3.PutBucketNotificationConfiguration", provider.NewError("AccessDenied", "denied"))

	rec, err := f.set.Bind(context.Background(), f.fn, storageSpec(), nil)
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.Binding.ID)
	assert.True(t, rec.Binding.CreatedByUs)
	assert.Len(t, f.cloud.Lambda.Permissions("f1"), 1)

	_, err = f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestUnbindLeavesForeignBindings(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.S3.AddBucket("media")
	rec := f.bind(t, storageSpec(), nil)
	rec.Binding.CreatedByUs = false

	f.cloud.Reset()
	removed, err := f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, f.cloud.Mutations())
	assert.Len(t, f.cloud.S3.Notifications("media").LambdaFunctionConfigurations, 1)
}

func TestLogsBindAndUnbind(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.Logs.Seed("/app/audit")
	spec := ir.TriggerSpec{Kind: ir.TriggerLogs, Name: "audit", Logs: &ir.LogsSpec{LogGroup: "/app/audit", FilterPattern: "ERROR"}}

	rec := f.bind(t, spec, nil)
	filters := f.cloud.Logs.Filters("/app/audit")
	require.Len(t, filters, 1)
	assert.Equal(t, f.fn.Arn, aws.ToString(filters[0].DestinationArn))

	f.cloud.Reset()
	f.bind(t, spec, rec)
	assert.Empty(t, f.cloud.Mutations())

	removed, err := f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.cloud.Logs.Filters("/app/audit"))
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestTopicSubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t, nil)
	topicArn := f.cloud.Topics.AddTopic("orders")
	spec := ir.TriggerSpec{Kind: ir.TriggerTopic, Name: "orders", Topic: &ir.TopicSpec{
		Topic:        "orders",
		FilterPolicy: `{"type": ["created"]}`,
	}}

	rec := f.bind(t, spec, nil)
	assert.True(t, rec.Binding.CreatedByUs)
	subs := f.cloud.Topics.Subscriptions(topicArn)
	require.Len(t, subs, 1)
	assert.Equal(t, f.fn.Arn, aws.ToString(subs[0].Endpoint))
	assert.Equal(t, rec.Binding.ID, aws.ToString(subs[0].SubscriptionArn))
	assert.Len(t, f.cloud.Lambda.Permissions("f1"), 1)

	// formatting differences in the policy are not drift
	spec.Topic.FilterPolicy = `{"type":["created"]}`
	f.cloud.Reset()
	f.bind(t, spec, rec)
	assert.Empty(t, f.cloud.Mutations())

	spec.Topic.FilterPolicy = `{"type":["deleted"]}`
	rec = f.bind(t, spec, rec)
	subs = f.cloud.Topics.Subscriptions(topicArn)
	require.Len(t, subs, 1)
	assert.Equal(t, `{"type":["deleted"]}`, f.cloud.Topics.Attributes(rec.Binding.ID)["FilterPolicy"])

	removed, err := f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.cloud.Topics.Subscriptions(topicArn))
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestTopicMissingIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	spec := ir.TriggerSpec{Kind: ir.TriggerTopic, Name: "gone", Topic: &ir.TopicSpec{Topic: "gone"}}

	rec, err := f.set.Bind(context.Background(), f.fn, spec, nil)
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
	require.NotNil(t, rec)
	assert.False(t, rec.Binding.CreatedByUs)
}

func TestLoadBalancerBindAndUnbind(t *testing.T) {
	f := newFixture(t, nil)
	listener := f.cloud.ELB.AddListener("web")
	spec := ir.TriggerSpec{
		Kind:         ir.TriggerLoadBalancer,
		Name:         "api",
		LoadBalancer: &ir.LoadBalancerSpec{ListenerArn: listener, Priority: 10, PathPattern: "/api/*"},
	}

	rec := f.bind(t, spec, nil)
	rules := f.cloud.ELB.Rules(listener)
	require.Len(t, rules, 1)
	assert.Equal(t, rec.Binding.ID, aws.ToString(rules[0].RuleArn))
	assert.Len(t, f.cloud.ELB.TargetGroups(), 1)

	f.cloud.Reset()
	f.bind(t, spec, rec)
	assert.Empty(t, f.cloud.Mutations())

	removed, err := f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.cloud.ELB.Rules(listener))
	assert.Empty(t, f.cloud.ELB.TargetGroups())
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestLoadBalancerPartialCreateIsCleanedUp(t *testing.T) {
	f := newFixture(t, nil)
	listener := f.cloud.ELB.AddListener("web")
	spec := ir.TriggerSpec{
		Kind:         ir.TriggerLoadBalancer,
		Name:         "api",
		LoadBalancer: &ir.LoadBalancerSpec{ListenerArn: listener, Priority: 10, PathPattern: "/api/*"},
	}
	f.cloud.FailNext("elb.CreateRule", provider.NewError("PriorityInUse", "priority 10 is taken"))

	rec, err := f.set.Bind(context.Background(), f.fn, spec, nil)
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Binding.CreatedByUs)
	groups := f.cloud.ELB.TargetGroups()
	require.Len(t, groups, 1)
	assert.Contains(t, rec.Binding.ID, "targetgroup/"+groups[0]+"/")
	assert.Empty(t, f.cloud.ELB.Rules(listener))

	removed, err := f.set.Unbind(context.Background(), f.fn, *rec)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.cloud.ELB.TargetGroups())
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestQueueBindWaitsAndDisables(t *testing.T) {
	f := newFixture(t, nil)
	f.cloud.SQS.AddQueue("jobs")
	spec := ir.TriggerSpec{Kind: ir.TriggerQueue, Name: "jobs", Queue: &ir.QueueSpec{Queue: "jobs", BatchSize: 10}}

	rec := f.bind(t, spec, nil)
	mappings := f.cloud.Lambda.Mappings()
	require.Len(t, mappings, 1)
	assert.Equal(t, "Enabled", aws.ToString(mappings[0].State))

	f.cloud.Reset()
	f.bind(t, spec, rec)
	assert.Empty(t, f.cloud.Mutations())

	spec.Enabled = off()
	disabled := f.bind(t, spec, rec)
	assert.False(t, disabled.Enabled)
	assert.True(t, disabled.Binding.CreatedByUs)
	mappings = f.cloud.Lambda.Mappings()
	require.Len(t, mappings, 1)
	assert.Equal(t, "Disabled", aws.ToString(mappings[0].State))
}

func TestQueueStreamDefaultsToLatest(t *testing.T) {
	f := newFixture(t, nil)
	arn := f.cloud.Kinesis.AddStream("clicks")
	spec := ir.TriggerSpec{Kind: ir.TriggerQueue, Name: "clicks", Queue: &ir.QueueSpec{Stream: "clicks"}}

	f.bind(t, spec, nil)
	mappings := f.cloud.Lambda.Mappings()
	require.Len(t, mappings, 1)
	assert.Equal(t, arn, aws.ToString(mappings[0].EventSourceArn))
	assert.Equal(t, lambdatypes.EventSourcePositionLatest, mappings[0].StartingPosition)
}

func TestBindRejectsUnknownKindAndMissingBlock(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.set.Bind(context.Background(), f.fn, ir.TriggerSpec{Kind: "carrier-pigeon", Name: "x"}, nil)
	assert.Error(t, err)

	_, err = f.set.Bind(context.Background(), f.fn, ir.TriggerSpec{Kind: ir.TriggerTimer, Name: "x"}, nil)
	assert.True(t, errors.Is(err, ErrMissingBlock))

	_, err = f.set.Bind(context.Background(), f.fn, ir.TriggerSpec{Kind: ir.TriggerGateway, Name: "x"}, nil)
	assert.Error(t, err, "no deployer registered")
}

type stubDeployer struct {
	deployed []ir.GatewaySpec
	removed  []*ir.GatewayRecord
}

func (s *stubDeployer) DeployGateway(_ context.Context, _ provider.Target, spec ir.GatewaySpec, _ *ir.GatewayRecord) (*ir.GatewayRecord, error) {
	s.deployed = append(s.deployed, spec)
	return &ir.GatewayRecord{Route: ir.Handle{ID: "r1 GET", Kind: ir.KindRoute, Name: spec.RouteKey(), CreatedByUs: true}}, nil
}

func (s *stubDeployer) RemoveGateway(_ context.Context, _ provider.Target, rec *ir.GatewayRecord) error {
	s.removed = append(s.removed, rec)
	return nil
}

func TestGatewayDelegatesToDeployer(t *testing.T) {
	d := &stubDeployer{}
	f := newFixture(t, d)
	spec := ir.TriggerSpec{
		Kind:    ir.TriggerGateway,
		Name:    "orders",
		Gateway: &ir.GatewaySpec{Service: ir.GatewayServiceSpec{Name: "shop"}, Path: "/orders", Method: "get"},
	}

	rec := f.bind(t, spec, nil)
	require.Len(t, d.deployed, 1)
	assert.Equal(t, "gateway:name:shop:GET /orders", rec.Key)
	assert.Equal(t, "r1 GET", rec.Binding.ID)
	require.NotNil(t, rec.Gateway)

	spec.Enabled = off()
	disabled := f.bind(t, spec, rec)
	require.Len(t, d.removed, 1)
	assert.Nil(t, disabled.Gateway)
	assert.Empty(t, f.cloud.Mutations(), "the deployer does the provider work")
}

func TestBindingName(t *testing.T) {
	assert.Equal(t, "fnstack-f1-nightly", bindingName("fnstack", "f1", "nightly", 64))
	assert.Equal(t, "f1-a-b", bindingName("", "f1", "a b", 64))

	long := bindingName("fnstack", strings.Repeat("x", 40), "trigger", 32)
	assert.Len(t, long, 32)
	assert.NotEqual(t, long, bindingName("fnstack", strings.Repeat("x", 40), "other", 32))
}

func putQueueNotification(bucket string) *s3.PutBucketNotificationConfigurationInput {
	return &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
		NotificationConfiguration: &s3types.NotificationConfiguration{
			QueueConfigurations: []s3types.QueueConfiguration{{
				QueueArn: aws.String("arn:aws:sqs:us-east-1:123456789012:audit"),
				Events:   []s3types.Event{"s3:ObjectRemoved:*"},
			}},
		},
	}
}
