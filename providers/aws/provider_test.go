package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	assert.Equal(t, "fnstack-orders", Name(64, "fnstack", "", "orders"))
	assert.Equal(t, "fnstack-my-fn-v2", Name(64, "fnstack", "my_fn.v2"))

	long := Name(20, "fnstack", "a-very-long-function-name")
	assert.Len(t, long, 20)
	assert.True(t, strings.HasPrefix(long, "fnstack-a-"))
	assert.Equal(t, long, Name(20, "fnstack", "a-very-long-function-name"), "stable")
	assert.NotEqual(t, long, Name(20, "fnstack", "a-very-long-function-nam3"))
}

func TestPartitionOf(t *testing.T) {
	tests := map[string]string{
		"us-east-1":     "aws",
		"eu-west-3":     "aws",
		"cn-north-1":    "aws-cn",
		"us-gov-west-1": "aws-us-gov",
	}
	for region, want := range tests {
		assert.Equal(t, want, PartitionOf(region), region)
	}
}

func TestProviderErrors(t *testing.T) {
	err := fmt.Errorf("get function: %w", NewError("ResourceNotFoundException", "function %s not found", "f1"))

	pe := AsProviderError(err)
	require.NotNil(t, pe)
	assert.Equal(t, "ResourceNotFoundException", pe.Code)
	assert.Equal(t, "function f1 not found", pe.Message)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))

	assert.True(t, IsConflict(NewError("ResourceConflictException", "busy")))
	assert.Nil(t, AsProviderError(errors.New("dial tcp: timeout")))
	assert.Nil(t, AsProviderError(nil))
	assert.Empty(t, ErrorCode(errors.New("plain")))
}

func TestNewTarget(t *testing.T) {
	fn, err := NewTarget("orders", "arn:aws:lambda:eu-west-1:123456789012:function:orders")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", fn.Region)
	assert.Equal(t, "123456789012", fn.Account)
	assert.Equal(t, "aws", fn.Partition)

	assert.Equal(t, "arn:aws:execute-api:eu-west-1:123456789012:abc/*/*/orders", fn.ExecuteAPIArn("abc", "ANY", "/orders"))
	assert.Equal(t, "arn:aws:execute-api:eu-west-1:123456789012:abc/*/GET/orders", fn.ExecuteAPIArn("abc", "GET", "/orders"))
	assert.Equal(t, "arn:aws:s3:::uploads", fn.BucketArn("uploads"))
	assert.Contains(t, fn.InvokeURI(), "functions/arn:aws:lambda:eu-west-1:123456789012:function:orders/invocations")

	_, err = NewTarget("orders", "orders")
	assert.Error(t, err)
}

func TestStatementID(t *testing.T) {
	id := StatementID("timer", "nightly")
	assert.True(t, strings.HasPrefix(id, "fnstack-"))
	assert.Equal(t, id, StatementID("timer", "nightly"))
	assert.NotEqual(t, id, StatementID("timer", "hourly"))
	assert.NotEqual(t, StatementID("ab", "c"), StatementID("a", "bc"))
}

func TestCollect(t *testing.T) {
	pages := map[string][]int{"": {1, 2}, "p2": {3}, "p3": {4, 5}}
	next := map[string]string{"": "p2", "p2": "p3", "p3": ""}

	got, err := collect(context.Background(), func(_ context.Context, token *string) ([]int, *string, error) {
		key := aws.ToString(token)
		return pages[key], aws.String(next[key]), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)

	boom := errors.New("throttled")
	_, err = collect(context.Background(), func(context.Context, *string) ([]int, *string, error) {
		return nil, nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRegistryCachesPerRegion(t *testing.T) {
	loads := 0
	reg := NewRegistryWithLoader(func(_ context.Context, region string) (*Clients, error) {
		loads++
		if region == "nowhere" {
			return nil, errors.New("unknown region")
		}
		return &Clients{Region: region}, nil
	})
	ctx := context.Background()

	a, err := reg.For(ctx, "us-east-1")
	require.NoError(t, err)
	b, err := reg.For(ctx, "us-east-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := reg.For(ctx, "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", c.Region)
	assert.Equal(t, 2, loads)

	_, err = reg.For(ctx, "nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}
