package awsfake

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Topics is the fake notification service. Topics exist only when added;
// subscriptions are confirmed immediately.
type Topics struct {
	cloud *Cloud
	mu    sync.Mutex

	topics map[string][]string
	subs   map[string]*subscription
	seq    int
}

type subscription struct {
	sub   snstypes.Subscription
	attrs map[string]string
}

var _ provider.SNSAPI = (*Topics)(nil)

func newTopics(c *Cloud) *Topics {
	return &Topics{cloud: c, topics: make(map[string][]string), subs: make(map[string]*subscription)}
}

// AddTopic creates a topic and returns its ARN.
func (f *Topics) AddTopic(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.cloud.arn("sns", name)
	if _, ok := f.topics[arn]; !ok {
		f.topics[arn] = nil
	}
	return arn
}

// Subscriptions returns copies of the subscriptions of a topic.
func (f *Topics) Subscriptions(topicArn string) []snstypes.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []snstypes.Subscription
	for _, id := range f.topics[topicArn] {
		out = append(out, f.subs[id].sub)
	}
	return out
}

// Attributes returns a copy of a subscription's attributes.
func (f *Topics) Attributes(subscriptionArn string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[subscriptionArn]; ok {
		return maps.Clone(s.attrs)
	}
	return nil
}

func topicNotFound(arn string) error {
	return provider.NewError("NotFound", "Topic does not exist: %s", arn)
}

func (f *Topics) ListSubscriptionsByTopic(_ context.Context, in *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	if err := f.cloud.call("sns.ListSubscriptionsByTopic"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(in.TopicArn)
	ids, ok := f.topics[arn]
	if !ok {
		return nil, topicNotFound(arn)
	}
	out := &sns.ListSubscriptionsByTopicOutput{}
	for _, id := range ids {
		out.Subscriptions = append(out.Subscriptions, f.subs[id].sub)
	}
	return out, nil
}

func (f *Topics) GetSubscriptionAttributes(_ context.Context, in *sns.GetSubscriptionAttributesInput, _ ...func(*sns.Options)) (*sns.GetSubscriptionAttributesOutput, error) {
	if err := f.cloud.call("sns.GetSubscriptionAttributes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[aws.ToString(in.SubscriptionArn)]
	if !ok {
		return nil, provider.NewError("NotFound", "Subscription does not exist")
	}
	return &sns.GetSubscriptionAttributesOutput{Attributes: maps.Clone(s.attrs)}, nil
}

func (f *Topics) Subscribe(_ context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	if err := f.cloud.call("sns.Subscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := aws.ToString(in.TopicArn)
	ids, ok := f.topics[arn]
	if !ok {
		return nil, topicNotFound(arn)
	}
	for _, id := range ids {
		s := f.subs[id]
		if aws.ToString(s.sub.Protocol) == aws.ToString(in.Protocol) && aws.ToString(s.sub.Endpoint) == aws.ToString(in.Endpoint) {
			maps.Copy(s.attrs, in.Attributes)
			return &sns.SubscribeOutput{SubscriptionArn: aws.String(id)}, nil
		}
	}

	f.seq++
	id := fmt.Sprintf("%s:sub-%04d", arn, f.seq)
	attrs := map[string]string{"TopicArn": arn, "SubscriptionArn": id}
	maps.Copy(attrs, in.Attributes)
	f.subs[id] = &subscription{
		sub: snstypes.Subscription{
			SubscriptionArn: aws.String(id),
			TopicArn:        aws.String(arn),
			Protocol:        in.Protocol,
			Endpoint:        in.Endpoint,
			Owner:           aws.String(f.cloud.Account),
		},
		attrs: attrs,
	}
	f.topics[arn] = append(ids, id)
	return &sns.SubscribeOutput{SubscriptionArn: aws.String(id)}, nil
}

func (f *Topics) Unsubscribe(_ context.Context, in *sns.UnsubscribeInput, _ ...func(*sns.Options)) (*sns.UnsubscribeOutput, error) {
	if err := f.cloud.call("sns.Unsubscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.SubscriptionArn)
	s, ok := f.subs[id]
	if !ok {
		return nil, provider.NewError("NotFound", "Subscription does not exist")
	}
	delete(f.subs, id)
	topicArn := aws.ToString(s.sub.TopicArn)
	ids := f.topics[topicArn]
	for i, other := range ids {
		if other == id {
			f.topics[topicArn] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return &sns.UnsubscribeOutput{}, nil
}
