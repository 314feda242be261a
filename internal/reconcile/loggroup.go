package reconcile

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// LogGroupName is where the function service writes a function's logs.
func LogGroupName(function string) string {
	return "/aws/lambda/" + function
}

// LogGroupInput is the log pipeline of one function.
type LogGroupInput struct {
	Name          string
	RetentionDays int32
}

// LogGroups reconciles log groups and their retention.
type LogGroups struct {
	api provider.LogsAPI
}

func NewLogGroups(api provider.LogsAPI) *LogGroups { return &LogGroups{api: api} }

var _ Kind[LogGroupInput, types.LogGroup] = (*LogGroups)(nil)

func (l *LogGroups) Name() ir.Kind { return ir.KindLogGroup }

func (l *LogGroups) Key(d LogGroupInput) string { return d.Name }

func (l *LogGroups) ID(s types.LogGroup) string { return aws.ToString(s.LogGroupName) }

// Get finds the group by exact name; the service only filters by prefix.
func (l *LogGroups) Get(ctx context.Context, name string) (types.LogGroup, bool, error) {
	groups, err := provider.ListLogGroups(ctx, l.api, name)
	if err != nil {
		return types.LogGroup{}, false, err
	}
	for _, g := range groups {
		if aws.ToString(g.LogGroupName) == name {
			return g, true, nil
		}
	}
	return types.LogGroup{}, false, nil
}

func (l *LogGroups) Mutable(d LogGroupInput) map[string]string {
	return map[string]string{"retentionDays": strconv.Itoa(int(d.RetentionDays))}
}

func (l *LogGroups) MutableOf(s types.LogGroup) map[string]string {
	return map[string]string{"retentionDays": strconv.Itoa(int(aws.ToInt32(s.RetentionInDays)))}
}

func (l *LogGroups) Create(ctx context.Context, d LogGroupInput) (types.LogGroup, error) {
	if _, err := l.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(d.Name)}); err != nil {
		return types.LogGroup{}, err
	}
	g := types.LogGroup{LogGroupName: aws.String(d.Name)}
	if d.RetentionDays > 0 {
		return l.Update(ctx, g, d, nil)
	}
	return g, nil
}

func (l *LogGroups) Update(ctx context.Context, current types.LogGroup, d LogGroupInput, _ Changes) (types.LogGroup, error) {
	if _, err := l.api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    current.LogGroupName,
		RetentionInDays: aws.Int32(d.RetentionDays),
	}); err != nil {
		return current, err
	}
	current.RetentionInDays = aws.Int32(d.RetentionDays)
	return current, nil
}

// Delete removes the group. A missing group is not an error.
func (l *LogGroups) Delete(ctx context.Context, name string) error {
	_, err := l.api.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: aws.String(name)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
