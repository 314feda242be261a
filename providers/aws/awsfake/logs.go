package awsfake

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Logs is the fake log service.
type Logs struct {
	cloud *Cloud
	mu    sync.Mutex

	groups  map[string]*types.LogGroup
	filters map[string][]types.SubscriptionFilter
}

var _ provider.LogsAPI = (*Logs)(nil)

func newLogs(c *Cloud) *Logs {
	return &Logs{cloud: c, groups: make(map[string]*types.LogGroup), filters: make(map[string][]types.SubscriptionFilter)}
}

// Seed installs a log group created outside fnstack.
func (f *Logs) Seed(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newGroup(name)
}

// Group returns a copy of the stored log group.
func (f *Logs) Group(name string) (types.LogGroup, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[name]
	if !ok {
		return types.LogGroup{}, false
	}
	return *g, true
}

// Filters returns the subscription filters of a group.
func (f *Logs) Filters(group string) []types.SubscriptionFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SubscriptionFilter(nil), f.filters[group]...)
}

func (f *Logs) newGroup(name string) {
	f.groups[name] = &types.LogGroup{
		LogGroupName: aws.String(name),
		Arn:          aws.String(f.cloud.arn("logs", "log-group:"+name+":*")),
	}
}

func (f *Logs) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if err := f.cloud.call("logs.DescribeLogGroups"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	for _, name := range sortedKeys(f.groups) {
		if strings.HasPrefix(name, aws.ToString(in.LogGroupNamePrefix)) {
			out.LogGroups = append(out.LogGroups, *f.groups[name])
		}
	}
	return out, nil
}

func (f *Logs) CreateLogGroup(_ context.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	if err := f.cloud.call("logs.CreateLogGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[name]; ok {
		return nil, conflict("ResourceAlreadyExistsException", "The specified log group already exists")
	}
	f.newGroup(name)
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (f *Logs) DeleteLogGroup(_ context.Context, in *cloudwatchlogs.DeleteLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error) {
	if err := f.cloud.call("logs.DeleteLogGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[name]; !ok {
		return nil, resourceNotFound("The specified log group does not exist.")
	}
	delete(f.groups, name)
	delete(f.filters, name)
	return &cloudwatchlogs.DeleteLogGroupOutput{}, nil
}

func (f *Logs) PutRetentionPolicy(_ context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	if err := f.cloud.call("logs.PutRetentionPolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[aws.ToString(in.LogGroupName)]
	if !ok {
		return nil, resourceNotFound("The specified log group does not exist.")
	}
	g.RetentionInDays = in.RetentionInDays
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

func (f *Logs) DescribeSubscriptionFilters(_ context.Context, in *cloudwatchlogs.DescribeSubscriptionFiltersInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeSubscriptionFiltersOutput, error) {
	if err := f.cloud.call("logs.DescribeSubscriptionFilters"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	group := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[group]; !ok {
		return nil, resourceNotFound("The specified log group does not exist.")
	}
	out := &cloudwatchlogs.DescribeSubscriptionFiltersOutput{}
	for _, sf := range f.filters[group] {
		if strings.HasPrefix(aws.ToString(sf.FilterName), aws.ToString(in.FilterNamePrefix)) {
			out.SubscriptionFilters = append(out.SubscriptionFilters, sf)
		}
	}
	return out, nil
}

func (f *Logs) PutSubscriptionFilter(_ context.Context, in *cloudwatchlogs.PutSubscriptionFilterInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutSubscriptionFilterOutput, error) {
	if err := f.cloud.call("logs.PutSubscriptionFilter"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	group := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[group]; !ok {
		return nil, resourceNotFound("The specified log group does not exist.")
	}
	sf := types.SubscriptionFilter{
		FilterName:     in.FilterName,
		LogGroupName:   in.LogGroupName,
		FilterPattern:  in.FilterPattern,
		DestinationArn: in.DestinationArn,
	}
	list := f.filters[group]
	for i := range list {
		if aws.ToString(list[i].FilterName) == aws.ToString(in.FilterName) {
			list[i] = sf
			return &cloudwatchlogs.PutSubscriptionFilterOutput{}, nil
		}
	}
	if len(list) >= 2 {
		return nil, provider.NewError("LimitExceededException", "Resource limit exceeded.")
	}
	f.filters[group] = append(list, sf)
	return &cloudwatchlogs.PutSubscriptionFilterOutput{}, nil
}

func (f *Logs) DeleteSubscriptionFilter(_ context.Context, in *cloudwatchlogs.DeleteSubscriptionFilterInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteSubscriptionFilterOutput, error) {
	if err := f.cloud.call("logs.DeleteSubscriptionFilter"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	group := aws.ToString(in.LogGroupName)
	list := f.filters[group]
	for i := range list {
		if aws.ToString(list[i].FilterName) == aws.ToString(in.FilterName) {
			f.filters[group] = append(list[:i:i], list[i+1:]...)
			return &cloudwatchlogs.DeleteSubscriptionFilterOutput{}, nil
		}
	}
	return nil, resourceNotFound("The specified subscription filter does not exist.")
}
