package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

type rule struct {
	out     eventbridge.DescribeRuleOutput
	targets []types.Target
}

// Events is the fake event bus.
type Events struct {
	cloud *Cloud
	mu    sync.Mutex
	rules map[string]*rule
}

var _ provider.EventsAPI = (*Events)(nil)

func newEvents(c *Cloud) *Events {
	return &Events{cloud: c, rules: make(map[string]*rule)}
}

// Rule returns a stored rule and its targets.
func (f *Events) Rule(name string) (eventbridge.DescribeRuleOutput, []types.Target, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[name]
	if !ok {
		return eventbridge.DescribeRuleOutput{}, nil, false
	}
	return r.out, append([]types.Target(nil), r.targets...), true
}

func ruleNotFound(name string) error {
	return resourceNotFound("Rule %s does not exist on EventBus default.", name)
}

func (f *Events) DescribeRule(_ context.Context, in *eventbridge.DescribeRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error) {
	if err := f.cloud.call("events.DescribeRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[aws.ToString(in.Name)]
	if !ok {
		return nil, ruleNotFound(aws.ToString(in.Name))
	}
	out := r.out
	return &out, nil
}

func (f *Events) PutRule(_ context.Context, in *eventbridge.PutRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	if err := f.cloud.call("events.PutRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	r, ok := f.rules[name]
	if !ok {
		r = &rule{}
		f.rules[name] = r
	}
	state := in.State
	if state == "" {
		state = types.RuleStateEnabled
	}
	r.out = eventbridge.DescribeRuleOutput{
		Name:               aws.String(name),
		Arn:                aws.String(f.cloud.arn("events", "rule/"+name)),
		ScheduleExpression: in.ScheduleExpression,
		State:              state,
		Description:        in.Description,
	}
	return &eventbridge.PutRuleOutput{RuleArn: r.out.Arn}, nil
}

func (f *Events) DeleteRule(_ context.Context, in *eventbridge.DeleteRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.DeleteRuleOutput, error) {
	if err := f.cloud.call("events.DeleteRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	r, ok := f.rules[name]
	if !ok {
		return &eventbridge.DeleteRuleOutput{}, nil
	}
	if len(r.targets) > 0 && !in.Force {
		return nil, provider.NewError("ValidationException", "Rule can't be deleted since it has targets.")
	}
	delete(f.rules, name)
	return &eventbridge.DeleteRuleOutput{}, nil
}

func (f *Events) ListTargetsByRule(_ context.Context, in *eventbridge.ListTargetsByRuleInput, _ ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error) {
	if err := f.cloud.call("events.ListTargetsByRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[aws.ToString(in.Rule)]
	if !ok {
		return nil, ruleNotFound(aws.ToString(in.Rule))
	}
	return &eventbridge.ListTargetsByRuleOutput{Targets: append([]types.Target(nil), r.targets...)}, nil
}

func (f *Events) PutTargets(_ context.Context, in *eventbridge.PutTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	if err := f.cloud.call("events.PutTargets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[aws.ToString(in.Rule)]
	if !ok {
		return nil, ruleNotFound(aws.ToString(in.Rule))
	}
next:
	for _, t := range in.Targets {
		for i := range r.targets {
			if aws.ToString(r.targets[i].Id) == aws.ToString(t.Id) {
				r.targets[i] = t
				continue next
			}
		}
		r.targets = append(r.targets, t)
	}
	return &eventbridge.PutTargetsOutput{}, nil
}

func (f *Events) RemoveTargets(_ context.Context, in *eventbridge.RemoveTargetsInput, _ ...func(*eventbridge.Options)) (*eventbridge.RemoveTargetsOutput, error) {
	if err := f.cloud.call("events.RemoveTargets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[aws.ToString(in.Rule)]
	if !ok {
		return nil, ruleNotFound(aws.ToString(in.Rule))
	}
	drop := make(map[string]bool, len(in.Ids))
	for _, id := range in.Ids {
		drop[id] = true
	}
	kept := r.targets[:0]
	for _, t := range r.targets {
		if !drop[aws.ToString(t.Id)] {
			kept = append(kept, t)
		}
	}
	r.targets = kept
	return &eventbridge.RemoveTargetsOutput{}, nil
}
