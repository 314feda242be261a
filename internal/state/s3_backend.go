package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// DefaultS3Key is the object key used when the config names none.
const DefaultS3Key = "fnstack/state.json"

// objectAPI is the part of the S3 client the backend uses.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// lockAPI is the part of the DynamoDB client the backend uses.
type lockAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend implements Backend for AWS S3 + optional DynamoDB locking.
type s3Backend struct {
	S3BackendConfig

	s3Client objectAPI
	dbClient lockAPI
	lockID   string
}

var _ Backend = (*s3Backend)(nil)

func parseS3Config(config map[string]string) (S3BackendConfig, error) {
	c := S3BackendConfig{
		Bucket:        config["bucket"],
		Key:           config["key"],
		Region:        config["region"],
		DynamoDBTable: config["dynamodb_table"],
		Encrypt:       config["encrypt"] == "true",
		Profile:       config["profile"],
	}
	if c.Bucket == "" {
		return c, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}
	if c.Key == "" {
		c.Key = DefaultS3Key
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return c, nil
}

func newS3Backend(ctx context.Context, config map[string]string) (Backend, error) {
	c, err := parseS3Config(config)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: unable to load AWS config: %w", err)
	}

	var db lockAPI
	if c.DynamoDBTable != "" {
		db = dynamodb.NewFromConfig(cfg)
	}
	return newS3BackendWithClients(c, s3.NewFromConfig(cfg), db), nil
}

func newS3BackendWithClients(c S3BackendConfig, objects objectAPI, locks lockAPI) *s3Backend {
	return &s3Backend{S3BackendConfig: c, s3Client: objects, dbClient: locks}
}

func (b *s3Backend) location() string { return fmt.Sprintf("s3://%s/%s", b.Bucket, b.Key) }

func (b *s3Backend) Read(ctx context.Context) (*File, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || provider.ErrorCode(err) == "NoSuchKey" || provider.IsNotFound(err) {
			return NewFile(), nil
		}
		return nil, fmt.Errorf("failed to read state from %s: %w", b.location(), err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	f, err := decodeRaw(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("remote state %s: %w", b.location(), err)
	}
	return f, nil
}

func (b *s3Backend) Write(ctx context.Context, f *File) error {
	data, err := encodeRaw(f)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(b.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if b.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to %s: %w", b.location(), err)
	}
	return nil
}

func (b *s3Backend) Lock() error {
	if b.dbClient == nil {
		return nil
	}

	b.lockID = fmt.Sprintf("fnstack-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := b.dbClient.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(b.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.Key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: b.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) || provider.ErrorCode(err) == "ConditionalCheckFailedException" {
			return fmt.Errorf("%w. If this is an error, manually delete the lock item with LockID=%q from DynamoDB table %q",
				ErrLocked, b.Key, b.DynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func (b *s3Backend) Unlock() error {
	if b.dbClient == nil {
		return nil
	}

	_, err := b.dbClient.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(b.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.Key},
		},
		ConditionExpression:       aws.String("Info = :id"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":id": &dbtypes.AttributeValueMemberS{Value: b.lockID}},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
