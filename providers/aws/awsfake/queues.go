package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kintypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// SQS is the fake queue service; only name resolution is modelled.
type SQS struct {
	cloud  *Cloud
	mu     sync.Mutex
	queues map[string]string
}

var _ provider.SQSAPI = (*SQS)(nil)

func newSQS(c *Cloud) *SQS {
	return &SQS{cloud: c, queues: make(map[string]string)}
}

// AddQueue creates a queue and returns its ARN.
func (f *SQS) AddQueue(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.cloud.arn("sqs", name)
	f.queues[f.url(name)] = arn
	return arn
}

func (f *SQS) url(name string) string {
	return "https://sqs." + f.cloud.Region + ".amazonaws.com/" + f.cloud.Account + "/" + name
}

func (f *SQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if err := f.cloud.call("sqs.GetQueueUrl"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.url(aws.ToString(in.QueueName))
	if _, ok := f.queues[u]; !ok {
		return nil, provider.NewError("AWS.SimpleQueueService.NonExistentQueue", "The specified queue does not exist.")
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(u)}, nil
}

func (f *SQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if err := f.cloud.call("sqs.GetQueueAttributes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn, ok := f.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, provider.NewError("AWS.SimpleQueueService.NonExistentQueue", "The specified queue does not exist.")
	}
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
		string(sqstypes.QueueAttributeNameQueueArn): arn,
	}}, nil
}

// Kinesis is the fake stream service; only name resolution is modelled.
type Kinesis struct {
	cloud   *Cloud
	mu      sync.Mutex
	streams map[string]string
}

var _ provider.KinesisAPI = (*Kinesis)(nil)

func newKinesis(c *Cloud) *Kinesis {
	return &Kinesis{cloud: c, streams: make(map[string]string)}
}

// AddStream creates a stream and returns its ARN.
func (f *Kinesis) AddStream(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.cloud.arn("kinesis", "stream/"+name)
	f.streams[name] = arn
	return arn
}

func (f *Kinesis) DescribeStreamSummary(_ context.Context, in *kinesis.DescribeStreamSummaryInput, _ ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error) {
	if err := f.cloud.call("kinesis.DescribeStreamSummary"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.StreamName)
	arn, ok := f.streams[name]
	if !ok {
		return nil, resourceNotFound("Stream %s under account %s not found.", name, f.cloud.Account)
	}
	return &kinesis.DescribeStreamSummaryOutput{StreamDescriptionSummary: &kintypes.StreamDescriptionSummary{
		StreamName:   aws.String(name),
		StreamARN:    aws.String(arn),
		StreamStatus: kintypes.StreamStatusActive,
	}}, nil
}
