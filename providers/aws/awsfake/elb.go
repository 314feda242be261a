package awsfake

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

type targetGroup struct {
	tg      types.TargetGroup
	targets []string
}

// ELB is the fake load balancer service. Listeners must be added before
// rules can be created on them.
type ELB struct {
	cloud *Cloud
	mu    sync.Mutex
	ids   ids

	groups    map[string]*targetGroup
	listeners map[string][]types.Rule
}

var _ provider.ELBAPI = (*ELB)(nil)

func newELB(c *Cloud) *ELB {
	return &ELB{cloud: c, groups: make(map[string]*targetGroup), listeners: make(map[string][]types.Rule)}
}

// AddListener registers a listener and returns its ARN.
func (f *ELB) AddListener(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.cloud.arn("elasticloadbalancing", "listener/app/"+name)
	f.listeners[arn] = nil
	return arn
}

// Rules returns the rules of a listener.
func (f *ELB) Rules(listener string) []types.Rule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Rule(nil), f.listeners[listener]...)
}

// TargetGroups returns the names of every target group.
func (f *ELB) TargetGroups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, arn := range sortedKeys(f.groups) {
		out = append(out, aws.ToString(f.groups[arn].tg.TargetGroupName))
	}
	return out
}

func (f *ELB) DescribeTargetGroups(_ context.Context, in *elasticloadbalancingv2.DescribeTargetGroupsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error) {
	if err := f.cloud.call("elb.DescribeTargetGroups"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &elasticloadbalancingv2.DescribeTargetGroupsOutput{}
	want := make(map[string]bool)
	for _, n := range in.Names {
		want[n] = true
	}
	for _, a := range in.TargetGroupArns {
		want[a] = true
	}
	for _, arn := range sortedKeys(f.groups) {
		g := f.groups[arn]
		if len(want) == 0 || want[arn] || want[aws.ToString(g.tg.TargetGroupName)] {
			out.TargetGroups = append(out.TargetGroups, g.tg)
		}
	}
	if len(want) > 0 && len(out.TargetGroups) == 0 {
		return nil, provider.NewError("TargetGroupNotFound", "One or more target groups not found")
	}
	return out, nil
}

func (f *ELB) CreateTargetGroup(_ context.Context, in *elasticloadbalancingv2.CreateTargetGroupInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.CreateTargetGroupOutput, error) {
	if err := f.cloud.call("elb.CreateTargetGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	for _, g := range f.groups {
		if aws.ToString(g.tg.TargetGroupName) == name {
			return &elasticloadbalancingv2.CreateTargetGroupOutput{TargetGroups: []types.TargetGroup{g.tg}}, nil
		}
	}
	arn := f.cloud.arn("elasticloadbalancing", "targetgroup/"+name+"/"+f.ids.new("tg"))
	g := &targetGroup{tg: types.TargetGroup{
		TargetGroupArn:  aws.String(arn),
		TargetGroupName: aws.String(name),
		TargetType:      in.TargetType,
	}}
	f.groups[arn] = g
	return &elasticloadbalancingv2.CreateTargetGroupOutput{TargetGroups: []types.TargetGroup{g.tg}}, nil
}

func (f *ELB) DeleteTargetGroup(_ context.Context, in *elasticloadbalancingv2.DeleteTargetGroupInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DeleteTargetGroupOutput, error) {
	if err := f.cloud.call("elb.DeleteTargetGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(in.TargetGroupArn)
	for _, rules := range f.listeners {
		for _, r := range rules {
			for _, a := range r.Actions {
				if aws.ToString(a.TargetGroupArn) == arn {
					return nil, provider.NewError("ResourceInUse", "Target group '%s' is currently in use by a listener or a rule", arn)
				}
			}
		}
	}
	delete(f.groups, arn)
	return &elasticloadbalancingv2.DeleteTargetGroupOutput{}, nil
}

func (f *ELB) RegisterTargets(_ context.Context, in *elasticloadbalancingv2.RegisterTargetsInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.RegisterTargetsOutput, error) {
	if err := f.cloud.call("elb.RegisterTargets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[aws.ToString(in.TargetGroupArn)]
	if !ok {
		return nil, provider.NewError("TargetGroupNotFound", "Target group not found")
	}
	for _, t := range in.Targets {
		g.targets = append(g.targets, aws.ToString(t.Id))
	}
	return &elasticloadbalancingv2.RegisterTargetsOutput{}, nil
}

func (f *ELB) DescribeRules(_ context.Context, in *elasticloadbalancingv2.DescribeRulesInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeRulesOutput, error) {
	if err := f.cloud.call("elb.DescribeRules"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rules, ok := f.listeners[aws.ToString(in.ListenerArn)]
	if !ok {
		return nil, provider.NewError("ListenerNotFound", "One or more listeners not found")
	}
	return &elasticloadbalancingv2.DescribeRulesOutput{Rules: append([]types.Rule(nil), rules...)}, nil
}

func (f *ELB) CreateRule(_ context.Context, in *elasticloadbalancingv2.CreateRuleInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.CreateRuleOutput, error) {
	if err := f.cloud.call("elb.CreateRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	listener := aws.ToString(in.ListenerArn)
	rules, ok := f.listeners[listener]
	if !ok {
		return nil, provider.NewError("ListenerNotFound", "One or more listeners not found")
	}
	priority := strconv.Itoa(int(aws.ToInt32(in.Priority)))
	for _, r := range rules {
		if aws.ToString(r.Priority) == priority {
			return nil, provider.NewError("PriorityInUse", "Priority '%s' is currently in use", priority)
		}
	}
	r := types.Rule{
		RuleArn:    aws.String(f.cloud.arn("elasticloadbalancing", "listener-rule/"+f.ids.new("rule"))),
		Priority:   aws.String(priority),
		Conditions: in.Conditions,
		Actions:    in.Actions,
		IsDefault:  aws.Bool(false),
	}
	f.listeners[listener] = append(rules, r)
	return &elasticloadbalancingv2.CreateRuleOutput{Rules: []types.Rule{r}}, nil
}

func (f *ELB) DeleteRule(_ context.Context, in *elasticloadbalancingv2.DeleteRuleInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DeleteRuleOutput, error) {
	if err := f.cloud.call("elb.DeleteRule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(in.RuleArn)
	for l, rules := range f.listeners {
		for i, r := range rules {
			if aws.ToString(r.RuleArn) == arn {
				f.listeners[l] = append(rules[:i:i], rules[i+1:]...)
				return &elasticloadbalancingv2.DeleteRuleOutput{}, nil
			}
		}
	}
	return nil, provider.NewError("RuleNotFound", "One or more rules not found")
}
