package trigger

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// logsTopic streams a log group into the function through a subscription
// filter.
type logsTopic struct {
	logs   provider.LogsAPI
	lambda provider.LambdaAPI
	prefix string
}

var _ Adapter = (*logsTopic)(nil)

func (l *logsTopic) Kind() Kind { return Logs }

func (l *logsTopic) CanDisable() bool { return false }

func (l *logsTopic) Key(spec ir.TriggerSpec) string {
	if spec.Logs == nil {
		return string(Logs) + ":" + spec.Name
	}
	return string(Logs) + ":" + spec.Logs.LogGroup + ":" + spec.Name
}

func (l *logsTopic) filterName(fn provider.Target, spec ir.TriggerSpec) string {
	return bindingName(l.prefix, fn.Name, spec.Name, 512)
}

func (l *logsTopic) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	if spec.Logs == nil {
		return Binding{}, false, missing(spec)
	}
	name := l.filterName(fn, spec)
	filters, err := provider.ListSubscriptionFilters(ctx, l.logs, spec.Logs.LogGroup, "")
	if err != nil {
		if provider.IsNotFound(err) {
			return Binding{}, false, nil
		}
		return Binding{}, false, err
	}
	for _, f := range filters {
		if !strings.EqualFold(aws.ToString(f.FilterName), name) {
			continue
		}
		return Binding{
			ID:      aws.ToString(f.FilterName),
			Enabled: true,
			Attrs: map[string]string{
				"logGroup":    spec.Logs.LogGroup,
				"pattern":     aws.ToString(f.FilterPattern),
				"destination": aws.ToString(f.DestinationArn),
			},
		}, true, nil
	}
	return Binding{}, false, nil
}

func (l *logsTopic) Equal(fn provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.Logs == nil {
		return false
	}
	return equalAttrs(map[string]string{
		"pattern":     spec.Logs.FilterPattern,
		"destination": fn.Arn,
	}, b)
}

func (l *logsTopic) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.Logs == nil {
		return Binding{}, missing(spec)
	}
	group := spec.Logs.LogGroup
	name := l.filterName(fn, spec)

	err := provider.AddPermission(ctx, l.lambda, fn.Name, provider.Permission{
		StatementID:   provider.StatementID(string(Logs), group, name),
		Principal:     provider.PrincipalLogs,
		SourceArn:     fn.LogGroupArn(group),
		SourceAccount: fn.Account,
	})
	if err != nil {
		return Binding{}, err
	}
	_, err = l.logs.PutSubscriptionFilter(ctx, &cloudwatchlogs.PutSubscriptionFilterInput{
		LogGroupName:   aws.String(group),
		FilterName:     aws.String(name),
		FilterPattern:  aws.String(spec.Logs.FilterPattern),
		DestinationArn: aws.String(fn.Arn),
	})
	if err != nil {
		return Binding{}, err
	}
	return Binding{ID: name, Enabled: true, Attrs: map[string]string{"logGroup": group}}, nil
}

func (l *logsTopic) Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error) {
	group := b.Attrs["logGroup"]
	_, err := l.logs.DeleteSubscriptionFilter(ctx, &cloudwatchlogs.DeleteSubscriptionFilterInput{
		LogGroupName: aws.String(group),
		FilterName:   aws.String(b.ID),
	})
	removed := err == nil
	if err != nil && !provider.IsNotFound(err) {
		return false, err
	}
	if err := provider.RemovePermission(ctx, l.lambda, fn.Name, provider.StatementID(string(Logs), group, b.ID)); err != nil {
		return removed, err
	}
	return removed, nil
}
