package trigger

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

const timerTargetID = "fnstack"

// timer binds a schedule rule whose single target is the function.
type timer struct {
	events provider.EventsAPI
	lambda provider.LambdaAPI
	prefix string
}

var _ Adapter = (*timer)(nil)

func (t *timer) Kind() Kind { return Timer }

func (t *timer) CanDisable() bool { return true }

func (t *timer) ruleName(fn provider.Target, spec ir.TriggerSpec) string {
	return bindingName(t.prefix, fn.Name, spec.Name, 64)
}

func (t *timer) Key(spec ir.TriggerSpec) string { return string(Timer) + ":" + spec.Name }

func (t *timer) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	name := t.ruleName(fn, spec)
	rule, err := t.events.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: aws.String(name)})
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	b := Binding{
		ID:      name,
		Enabled: rule.State == types.RuleStateEnabled,
		Attrs: map[string]string{
			"schedule": aws.ToString(rule.ScheduleExpression),
			"ruleArn":  aws.ToString(rule.Arn),
		},
	}
	targets, err := provider.ListRuleTargets(ctx, t.events, name)
	if err != nil {
		return Binding{}, false, err
	}
	for _, tg := range targets {
		if aws.ToString(tg.Arn) == fn.Arn {
			b.Attrs["target"] = aws.ToString(tg.Id)
			b.Attrs["argument"] = aws.ToString(tg.Input)
		}
	}
	b.Attrs["targets"] = strconv.Itoa(len(targets))
	return b, true, nil
}

func (t *timer) Equal(_ provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.Timer == nil {
		return false
	}
	return equalAttrs(map[string]string{
		"schedule": spec.Timer.Schedule,
		"target":   timerTargetID,
		"argument": spec.Argument,
	}, b)
}

func (t *timer) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.Timer == nil {
		return Binding{}, missing(spec)
	}
	name := t.ruleName(fn, spec)
	state := types.RuleStateEnabled
	if !spec.IsEnabled() {
		state = types.RuleStateDisabled
	}
	out, err := t.events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(name),
		ScheduleExpression: aws.String(spec.Timer.Schedule),
		State:              state,
		Description:        aws.String("schedule for " + fn.Name),
	})
	if err != nil {
		return Binding{}, err
	}

	err = provider.AddPermission(ctx, t.lambda, fn.Name, provider.Permission{
		StatementID: provider.StatementID(string(Timer), name),
		Principal:   provider.PrincipalEvents,
		SourceArn:   aws.ToString(out.RuleArn),
	})
	if err != nil {
		return Binding{ID: name}, err
	}

	target := types.Target{Id: aws.String(timerTargetID), Arn: aws.String(fn.Arn)}
	if spec.Argument != "" {
		target.Input = aws.String(spec.Argument)
	}
	if _, err := t.events.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:    aws.String(name),
		Targets: []types.Target{target},
	}); err != nil {
		return Binding{ID: name}, err
	}
	return Binding{ID: name, Enabled: spec.IsEnabled()}, nil
}

func (t *timer) Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error) {
	remaining, _ := strconv.Atoi(b.Attrs["targets"])
	if id := b.Attrs["target"]; id != "" {
		_, err := t.events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
			Rule: aws.String(b.ID),
			Ids:  []string{id},
		})
		if err != nil && !provider.IsNotFound(err) {
			return false, err
		}
		remaining--
	}
	// A rule that still has other targets stays; only ours goes.
	if remaining <= 0 {
		if _, err := t.events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{Name: aws.String(b.ID)}); err != nil && !provider.IsNotFound(err) {
			return false, err
		}
	}
	if err := provider.RemovePermission(ctx, t.lambda, fn.Name, provider.StatementID(string(Timer), b.ID)); err != nil {
		return false, err
	}
	return true, nil
}
