package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// S3 is the fake object store; only bucket notifications are modelled.
type S3 struct {
	cloud   *Cloud
	mu      sync.Mutex
	buckets map[string]*types.NotificationConfiguration
}

var _ provider.S3API = (*S3)(nil)

func newS3(c *Cloud) *S3 {
	return &S3{cloud: c, buckets: make(map[string]*types.NotificationConfiguration)}
}

// AddBucket creates an empty bucket.
func (f *S3) AddBucket(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[name] = &types.NotificationConfiguration{}
}

// Notifications returns the stored notification configuration of a bucket.
func (f *S3) Notifications(bucket string) types.NotificationConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.buckets[bucket]; ok {
		return *n
	}
	return types.NotificationConfiguration{}
}

func noSuchBucket(name string) error {
	return provider.NewError("NoSuchBucket", "The specified bucket does not exist: %s", name)
}

func (f *S3) GetBucketNotificationConfiguration(_ context.Context, in *s3.GetBucketNotificationConfigurationInput, _ ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	if err := f.cloud.call("s3.GetBucketNotificationConfiguration"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, noSuchBucket(aws.ToString(in.Bucket))
	}
	return &s3.GetBucketNotificationConfigurationOutput{
		LambdaFunctionConfigurations: append([]types.LambdaFunctionConfiguration(nil), n.LambdaFunctionConfigurations...),
		QueueConfigurations:          append([]types.QueueConfiguration(nil), n.QueueConfigurations...),
		TopicConfigurations:          append([]types.TopicConfiguration(nil), n.TopicConfigurations...),
		EventBridgeConfiguration:     n.EventBridgeConfiguration,
	}, nil
}

func (f *S3) PutBucketNotificationConfiguration(_ context.Context, in *s3.PutBucketNotificationConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	if err := f.cloud.call("s3.PutBucketNotificationConfiguration"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Bucket)
	if _, ok := f.buckets[name]; !ok {
		return nil, noSuchBucket(name)
	}
	cp := types.NotificationConfiguration{}
	if in.NotificationConfiguration != nil {
		cp = *in.NotificationConfiguration
	}
	f.buckets[name] = &cp
	return &s3.PutBucketNotificationConfigurationOutput{}, nil
}
