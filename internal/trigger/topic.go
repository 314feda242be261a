package trigger

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

const (
	protocolLambda      = "lambda"
	attrFilterPolicy    = "FilterPolicy"
	pendingConfirmation = "PendingConfirmation"
)

// topic subscribes the function to a notification topic. The topic itself
// is never created or deleted.
type topic struct {
	sns    provider.SNSAPI
	lambda provider.LambdaAPI
}

var _ Adapter = (*topic)(nil)

func (t *topic) Kind() Kind { return Topic }

func (t *topic) CanDisable() bool { return false }

func (t *topic) Key(spec ir.TriggerSpec) string {
	if spec.Topic == nil {
		return string(Topic) + ":" + spec.Name
	}
	return string(Topic) + ":" + spec.Topic.Topic + ":" + spec.Name
}

func (t *topic) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	if spec.Topic == nil {
		return Binding{}, false, missing(spec)
	}
	topicArn := fn.TopicArn(spec.Topic.Topic)
	subs, err := provider.ListTopicSubscriptions(ctx, t.sns, topicArn)
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	for _, s := range subs {
		id := aws.ToString(s.SubscriptionArn)
		if aws.ToString(s.Protocol) != protocolLambda || aws.ToString(s.Endpoint) != fn.Arn || id == pendingConfirmation {
			continue
		}
		out, err := t.sns.GetSubscriptionAttributes(ctx, &sns.GetSubscriptionAttributesInput{SubscriptionArn: aws.String(id)})
		if err != nil {
			if provider.IsNotFound(err) {
				return Binding{}, false, nil
			}
			return Binding{}, false, err
		}
		return Binding{
			ID:      id,
			Enabled: true,
			Attrs: map[string]string{
				"topic":        topicArn,
				"filterPolicy": normalizePolicy(out.Attributes[attrFilterPolicy]),
			},
		}, true, nil
	}
	return Binding{}, false, nil
}

func (t *topic) Equal(fn provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.Topic == nil {
		return false
	}
	return equalAttrs(map[string]string{
		"topic":        fn.TopicArn(spec.Topic.Topic),
		"filterPolicy": normalizePolicy(spec.Topic.FilterPolicy),
	}, b)
}

func (t *topic) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.Topic == nil {
		return Binding{}, missing(spec)
	}
	topicArn := fn.TopicArn(spec.Topic.Topic)

	err := provider.AddPermission(ctx, t.lambda, fn.Name, provider.Permission{
		StatementID: provider.StatementID(string(Topic), topicArn),
		Principal:   provider.PrincipalSNS,
		SourceArn:   topicArn,
	})
	if err != nil {
		return Binding{}, err
	}

	in := &sns.SubscribeInput{
		TopicArn:              aws.String(topicArn),
		Protocol:              aws.String(protocolLambda),
		Endpoint:              aws.String(fn.Arn),
		ReturnSubscriptionArn: true,
	}
	if spec.Topic.FilterPolicy != "" {
		in.Attributes = map[string]string{attrFilterPolicy: spec.Topic.FilterPolicy}
	}
	out, err := t.sns.Subscribe(ctx, in)
	if err != nil {
		return Binding{}, err
	}
	return Binding{ID: aws.ToString(out.SubscriptionArn), Enabled: true, Attrs: map[string]string{"topic": topicArn}}, nil
}

func (t *topic) Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error) {
	_, err := t.sns.Unsubscribe(ctx, &sns.UnsubscribeInput{SubscriptionArn: aws.String(b.ID)})
	removed := err == nil
	if err != nil && !provider.IsNotFound(err) {
		return false, err
	}
	if err := provider.RemovePermission(ctx, t.lambda, fn.Name, provider.StatementID(string(Topic), b.Attrs["topic"])); err != nil {
		return removed, err
	}
	return removed, nil
}

// normalizePolicy re-encodes a filter policy so formatting and key order
// do not count as drift.
func normalizePolicy(policy string) string {
	if policy == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(policy), &v); err != nil {
		return policy
	}
	out, err := json.Marshal(v)
	if err != nil {
		return policy
	}
	return string(out)
}
