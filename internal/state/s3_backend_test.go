package state

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/ir"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	sse     map[string]s3types.ServerSideEncryption
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, sse: map[string]s3types.ServerSideEncryption{}}
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	m.objects[key] = data
	m.sse[key] = in.ServerSideEncryption
	return &s3.PutObjectOutput{}, nil
}

type memLocks struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memLocks) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, held := m.items[id]; held {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("held")}
	}
	m.items[id] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memLocks) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestParseS3ConfigRequiresBucket(t *testing.T) {
	_, err := parseS3Config(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	_, err = NewBackend(context.Background(), &BackendConfig{Type: "s3", Config: map[string]string{}})
	require.Error(t, err)
}

func TestParseS3ConfigDefaults(t *testing.T) {
	c, err := parseS3Config(map[string]string{"bucket": "my-bucket"})
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", c.Bucket)
	assert.Equal(t, DefaultS3Key, c.Key)
	assert.Equal(t, "us-east-1", c.Region)
	assert.Empty(t, c.DynamoDBTable)
	assert.False(t, c.Encrypt)
}

func TestParseS3ConfigCustom(t *testing.T) {
	c, err := parseS3Config(map[string]string{
		"bucket":         "custom-bucket",
		"key":            "custom/path/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "fnstack-locks",
		"encrypt":        "true",
		"profile":        "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom/path/state.json", c.Key)
	assert.Equal(t, "eu-west-1", c.Region)
	assert.Equal(t, "fnstack-locks", c.DynamoDBTable)
	assert.Equal(t, "staging", c.Profile)
	assert.True(t, c.Encrypt)
}

func TestS3BackendReadMissingIsEmpty(t *testing.T) {
	b := newS3BackendWithClients(S3BackendConfig{Bucket: "b", Key: DefaultS3Key}, newMemObjects(), nil)
	f, err := b.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.Records)
	assert.Equal(t, 0, f.Serial)
}

func TestS3BackendRoundTrip(t *testing.T) {
	objects := newMemObjects()
	b := newS3BackendWithClients(S3BackendConfig{Bucket: "b", Key: "k", Encrypt: true}, objects, nil)
	ctx := context.Background()

	f := NewFile()
	f.Put(&ir.Record{Version: ir.RecordVersion, Name: "f1", Region: "us-east-1",
		Function: ir.Handle{ID: "f1", Kind: ir.KindFunction, CreatedByUs: true}})
	require.NoError(t, b.Write(ctx, f))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, objects.sse["b/k"])

	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Serial)
	assert.Equal(t, f.Lineage, got.Lineage)
	require.NotNil(t, got.Get("f1"))
	assert.True(t, got.Get("f1").Function.CreatedByUs)
}

func TestS3BackendLockConflict(t *testing.T) {
	locks := &memLocks{items: map[string]string{}}
	cfg := S3BackendConfig{Bucket: "b", Key: "k", DynamoDBTable: "locks"}
	first := newS3BackendWithClients(cfg, newMemObjects(), locks)
	second := newS3BackendWithClients(cfg, newMemObjects(), locks)

	require.NoError(t, first.Lock())
	err := second.Lock()
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "locks")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestS3BackendWithoutTableDoesNotLock(t *testing.T) {
	b := newS3BackendWithClients(S3BackendConfig{Bucket: "b", Key: "k"}, newMemObjects(), nil)
	assert.NoError(t, b.Lock())
	assert.NoError(t, b.Lock())
	assert.NoError(t, b.Unlock())
}
