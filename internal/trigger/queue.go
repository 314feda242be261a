package trigger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/poll"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Mapping states reported by the function service.
const (
	mappingEnabled   = "Enabled"
	mappingEnabling  = "Enabling"
	mappingDisabled  = "Disabled"
	mappingDisabling = "Disabling"
)

// queue polls a message queue or stream on the function's behalf through
// an event source mapping. Mappings keep a disabled state.
type queue struct {
	lambda  provider.LambdaAPI
	sqs     provider.SQSAPI
	kinesis provider.KinesisAPI
	cfg     config.Config
}

var _ Adapter = (*queue)(nil)

func (q *queue) Kind() Kind { return Queue }

func (q *queue) CanDisable() bool { return true }

func (q *queue) Key(spec ir.TriggerSpec) string {
	if spec.Queue == nil {
		return string(Queue) + ":" + spec.Name
	}
	if spec.Queue.Stream != "" {
		return string(Queue) + ":stream:" + spec.Queue.Stream
	}
	return string(Queue) + ":sqs:" + spec.Queue.Queue
}

// sourceArn resolves the queue or stream name to its ARN. ARNs are used
// as given.
func (q *queue) sourceArn(ctx context.Context, qs *ir.QueueSpec) (string, error) {
	switch {
	case qs.Stream != "":
		if provider.IsArn(qs.Stream) {
			return qs.Stream, nil
		}
		out, err := q.kinesis.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{StreamName: aws.String(qs.Stream)})
		if err != nil {
			return "", fmt.Errorf("describe stream %s: %w", qs.Stream, err)
		}
		return aws.ToString(out.StreamDescriptionSummary.StreamARN), nil
	case qs.Queue != "":
		if provider.IsArn(qs.Queue) {
			return qs.Queue, nil
		}
		u, err := q.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(qs.Queue)})
		if err != nil {
			return "", fmt.Errorf("resolve queue %s: %w", qs.Queue, err)
		}
		attrs, err := q.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       u.QueueUrl,
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
		if err != nil {
			return "", fmt.Errorf("queue attributes %s: %w", qs.Queue, err)
		}
		return attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)], nil
	}
	return "", fmt.Errorf("queue trigger names neither a queue nor a stream")
}

func (q *queue) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	if spec.Queue == nil {
		return Binding{}, false, missing(spec)
	}
	source, err := q.sourceArn(ctx, spec.Queue)
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	mappings, err := provider.ListEventSourceMappings(ctx, q.lambda, fn.Name, source)
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	if len(mappings) == 0 {
		return Binding{}, false, nil
	}
	m := mappings[0]
	state := aws.ToString(m.State)
	return Binding{
		ID:      aws.ToString(m.UUID),
		Enabled: state == mappingEnabled || state == mappingEnabling,
		Attrs: map[string]string{
			"source":           source,
			"batchSize":        strconv.Itoa(int(aws.ToInt32(m.BatchSize))),
			"startingPosition": string(m.StartingPosition),
		},
	}, true, nil
}

func (q *queue) Equal(_ provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.Queue == nil {
		return false
	}
	want := map[string]string{}
	if spec.Queue.BatchSize > 0 {
		want["batchSize"] = strconv.Itoa(int(spec.Queue.BatchSize))
	}
	if spec.Queue.Stream != "" {
		want["startingPosition"] = startingPosition(spec.Queue)
	}
	return equalAttrs(want, b)
}

func startingPosition(qs *ir.QueueSpec) string {
	if qs.StartingPosition == "" {
		return string(types.EventSourcePositionLatest)
	}
	return qs.StartingPosition
}

func (q *queue) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.Queue == nil {
		return Binding{}, missing(spec)
	}
	source, err := q.sourceArn(ctx, spec.Queue)
	if err != nil {
		return Binding{}, err
	}
	in := &lambda.CreateEventSourceMappingInput{
		FunctionName:   aws.String(fn.Name),
		EventSourceArn: aws.String(source),
		Enabled:        aws.Bool(spec.IsEnabled()),
	}
	if spec.Queue.BatchSize > 0 {
		in.BatchSize = aws.Int32(spec.Queue.BatchSize)
	}
	if spec.Queue.Stream != "" {
		in.StartingPosition = types.EventSourcePosition(startingPosition(spec.Queue))
	}
	out, err := q.lambda.CreateEventSourceMapping(ctx, in)
	if err != nil {
		return Binding{}, err
	}
	id := aws.ToString(out.UUID)
	b := Binding{ID: id, Enabled: spec.IsEnabled(), Attrs: map[string]string{"source": source}}

	_, err = poll.Wait(ctx, q.probe(id), poll.Options[string]{
		Interval: q.cfg.PollInterval,
		Attempts: q.cfg.ActivationAttempts,
		Terminal: func(state string, found bool) bool {
			return found && (state == mappingEnabled || state == mappingDisabled)
		},
		Failure: func(_ string, found bool) bool { return !found },
		Subject: "event source mapping " + id,
	})
	return b, err
}

func (q *queue) probe(id string) poll.Probe[string] {
	return func(ctx context.Context) (string, bool, error) {
		out, err := q.lambda.GetEventSourceMapping(ctx, &lambda.GetEventSourceMappingInput{UUID: aws.String(id)})
		if err != nil {
			if provider.IsNotFound(err) {
				return "", false, nil
			}
			return "", false, err
		}
		return aws.ToString(out.State), true, nil
	}
}

func (q *queue) Delete(ctx context.Context, _ provider.Target, b Binding) (bool, error) {
	_, err := q.lambda.DeleteEventSourceMapping(ctx, &lambda.DeleteEventSourceMappingInput{UUID: aws.String(b.ID)})
	if err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	// A replacement for the same source is refused until the old mapping
	// is gone.
	_, err = poll.Wait(ctx, q.probe(b.ID), poll.Options[string]{
		Interval: q.cfg.PollInterval,
		Timeout:  q.cfg.DeleteTimeout,
		Terminal: poll.Gone[string],
		Subject:  "event source mapping " + b.ID + " deletion",
	})
	return true, err
}
