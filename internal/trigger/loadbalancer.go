package trigger

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// loadBalancer routes a listener rule to a lambda target group that holds
// only the function.
type loadBalancer struct {
	elb    provider.ELBAPI
	lambda provider.LambdaAPI
	prefix string
}

var _ Adapter = (*loadBalancer)(nil)

func (l *loadBalancer) Kind() Kind { return LoadBalancer }

func (l *loadBalancer) CanDisable() bool { return false }

func (l *loadBalancer) Key(spec ir.TriggerSpec) string {
	if spec.LoadBalancer == nil {
		return string(LoadBalancer) + ":" + spec.Name
	}
	return string(LoadBalancer) + ":" + spec.LoadBalancer.ListenerArn + ":" + spec.Name
}

// Target group names are capped at 32 characters.
func (l *loadBalancer) groupName(fn provider.Target, spec ir.TriggerSpec) string {
	return bindingName(l.prefix, fn.Name, spec.Name, 32)
}

func (l *loadBalancer) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	if spec.LoadBalancer == nil {
		return Binding{}, false, missing(spec)
	}
	groups, err := l.elb.DescribeTargetGroups(ctx, &elb.DescribeTargetGroupsInput{
		Names: []string{l.groupName(fn, spec)},
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	if len(groups.TargetGroups) == 0 {
		return Binding{}, false, nil
	}
	groupArn := aws.ToString(groups.TargetGroups[0].TargetGroupArn)
	b := Binding{Enabled: true, Attrs: map[string]string{"targetGroup": groupArn}}

	rules, err := provider.ListListenerRules(ctx, l.elb, spec.LoadBalancer.ListenerArn)
	if err != nil {
		return Binding{}, false, err
	}
	for _, r := range rules {
		if !forwardsTo(r, groupArn) {
			continue
		}
		b.ID = aws.ToString(r.RuleArn)
		b.Attrs["priority"] = aws.ToString(r.Priority)
		b.Attrs["path"], b.Attrs["host"] = "", ""
		for _, c := range r.Conditions {
			switch aws.ToString(c.Field) {
			case "path-pattern":
				b.Attrs["path"] = firstValue(c.Values, c.PathPatternConfig)
			case "host-header":
				if c.HostHeaderConfig != nil && len(c.HostHeaderConfig.Values) > 0 {
					b.Attrs["host"] = c.HostHeaderConfig.Values[0]
				} else if len(c.Values) > 0 {
					b.Attrs["host"] = c.Values[0]
				}
			}
		}
		break
	}
	return b, true, nil
}

func forwardsTo(r types.Rule, groupArn string) bool {
	for _, a := range r.Actions {
		if aws.ToString(a.TargetGroupArn) == groupArn {
			return true
		}
	}
	return false
}

func firstValue(values []string, cfg *types.PathPatternConditionConfig) string {
	if cfg != nil && len(cfg.Values) > 0 {
		return cfg.Values[0]
	}
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

func (l *loadBalancer) Equal(_ provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.LoadBalancer == nil || b.ID == "" {
		return false
	}
	lb := spec.LoadBalancer
	return equalAttrs(map[string]string{
		"priority": strconv.Itoa(int(lb.Priority)),
		"path":     pathPattern(lb),
		"host":     lb.Host,
	}, b)
}

// pathPattern defaults to matching everything when the rule names neither
// a path nor a host.
func pathPattern(lb *ir.LoadBalancerSpec) string {
	if lb.PathPattern == "" && lb.Host == "" {
		return "/*"
	}
	return lb.PathPattern
}

func (l *loadBalancer) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.LoadBalancer == nil {
		return Binding{}, missing(spec)
	}
	lb := spec.LoadBalancer
	group, err := l.elb.CreateTargetGroup(ctx, &elb.CreateTargetGroupInput{
		Name:       aws.String(l.groupName(fn, spec)),
		TargetType: types.TargetTypeEnumLambda,
	})
	if err != nil {
		return Binding{}, err
	}
	groupArn := aws.ToString(group.TargetGroups[0].TargetGroupArn)
	// Until the rule exists the group stands in for the binding.
	b := Binding{ID: groupArn, Enabled: true, Attrs: map[string]string{"targetGroup": groupArn}}

	// Registration is refused until the load balancer may invoke.
	err = provider.AddPermission(ctx, l.lambda, fn.Name, provider.Permission{
		StatementID: provider.StatementID(string(LoadBalancer), groupArn),
		Principal:   provider.PrincipalELB,
		SourceArn:   groupArn,
	})
	if err != nil {
		return b, err
	}
	if _, err := l.elb.RegisterTargets(ctx, &elb.RegisterTargetsInput{
		TargetGroupArn: aws.String(groupArn),
		Targets:        []types.TargetDescription{{Id: aws.String(fn.Arn)}},
	}); err != nil {
		return b, err
	}

	var conds []types.RuleCondition
	if p := pathPattern(lb); p != "" {
		conds = append(conds, types.RuleCondition{
			Field:             aws.String("path-pattern"),
			PathPatternConfig: &types.PathPatternConditionConfig{Values: []string{p}},
		})
	}
	if lb.Host != "" {
		conds = append(conds, types.RuleCondition{
			Field:            aws.String("host-header"),
			HostHeaderConfig: &types.HostHeaderConditionConfig{Values: []string{lb.Host}},
		})
	}
	rule, err := l.elb.CreateRule(ctx, &elb.CreateRuleInput{
		ListenerArn: aws.String(lb.ListenerArn),
		Priority:    aws.Int32(lb.Priority),
		Conditions:  conds,
		Actions: []types.Action{{
			Type:           types.ActionTypeEnumForward,
			TargetGroupArn: aws.String(groupArn),
		}},
	})
	if err != nil {
		return b, err
	}
	b.ID = aws.ToString(rule.Rules[0].RuleArn)
	return b, nil
}

// Delete removes the rule, then the target group it forwarded to.
func (l *loadBalancer) Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error) {
	removed := false
	if b.ID != "" && b.ID != b.Attrs["targetGroup"] {
		_, err := l.elb.DeleteRule(ctx, &elb.DeleteRuleInput{RuleArn: aws.String(b.ID)})
		if err != nil && !provider.IsNotFound(err) {
			return false, err
		}
		removed = err == nil
	}
	groupArn := b.Attrs["targetGroup"]
	if groupArn == "" {
		return removed, nil
	}
	if _, err := l.elb.DeleteTargetGroup(ctx, &elb.DeleteTargetGroupInput{TargetGroupArn: aws.String(groupArn)}); err != nil && !provider.IsNotFound(err) {
		return removed, err
	}
	if err := provider.RemovePermission(ctx, l.lambda, fn.Name, provider.StatementID(string(LoadBalancer), groupArn)); err != nil {
		return true, err
	}
	return true, nil
}
