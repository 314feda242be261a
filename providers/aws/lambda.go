package aws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// Permission is one statement of a function's resource policy.
type Permission struct {
	StatementID   string
	Principal     string
	SourceArn     string
	SourceAccount string
}

// Service principals allowed to invoke a function.
const (
	PrincipalEvents     = "events.amazonaws.com"
	PrincipalS3         = "s3.amazonaws.com"
	PrincipalLogs       = "logs.amazonaws.com"
	PrincipalELB        = "elasticloadbalancing.amazonaws.com"
	PrincipalAPIGateway = "apigateway.amazonaws.com"
	PrincipalSNS        = "sns.amazonaws.com"
)

// AddPermission grants p on function. A statement that already exists is
// not an error.
func AddPermission(ctx context.Context, api LambdaAPI, function string, p Permission) error {
	in := &lambda.AddPermissionInput{
		FunctionName: aws.String(function),
		StatementId:  aws.String(p.StatementID),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String(p.Principal),
	}
	if p.SourceArn != "" {
		in.SourceArn = aws.String(p.SourceArn)
	}
	if p.SourceAccount != "" {
		in.SourceAccount = aws.String(p.SourceAccount)
	}
	if _, err := api.AddPermission(ctx, in); err != nil && !IsConflict(err) {
		return fmt.Errorf("add permission %s: %w", p.StatementID, err)
	}
	return nil
}

// RemovePermission drops a statement. A missing statement or function is
// not an error.
func RemovePermission(ctx context.Context, api LambdaAPI, function, statementID string) error {
	_, err := api.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(function),
		StatementId:  aws.String(statementID),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("remove permission %s: %w", statementID, err)
	}
	return nil
}

// StatementID derives a stable, policy-safe statement id from parts.
func StatementID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "fnstack-" + hex.EncodeToString(sum[:8])
}

// Target identifies the function that triggers and routes point at.
type Target struct {
	Name      string
	Arn       string
	Region    string
	Account   string
	Partition string
}

// NewTarget derives region, account and partition from the function ARN.
func NewTarget(name, functionArn string) (Target, error) {
	a, err := arn.Parse(functionArn)
	if err != nil {
		return Target{}, fmt.Errorf("parse function arn %q: %w", functionArn, err)
	}
	return Target{
		Name:      name,
		Arn:       functionArn,
		Region:    a.Region,
		Account:   a.AccountID,
		Partition: a.Partition,
	}, nil
}

// InvokeURI is the integration URI an API Gateway proxy route calls.
func (t Target) InvokeURI() string {
	return fmt.Sprintf("arn:%s:apigateway:%s:lambda:path/2015-03-31/functions/%s/invocations",
		t.Partition, t.Region, t.Arn)
}

// ExecuteAPIArn is the source ARN of invocations through one route.
func (t Target) ExecuteAPIArn(apiID, method, path string) string {
	if method == "ANY" {
		method = "*"
	}
	return arn.ARN{
		Partition: t.Partition,
		Service:   "execute-api",
		Region:    t.Region,
		AccountID: t.Account,
		Resource:  apiID + "/*/" + method + path,
	}.String()
}

// LogGroupArn is the source ARN of a subscription filter's log group.
func (t Target) LogGroupArn(logGroup string) string {
	return arn.ARN{
		Partition: t.Partition,
		Service:   "logs",
		Region:    t.Region,
		AccountID: t.Account,
		Resource:  "log-group:" + logGroup + ":*",
	}.String()
}

// BucketArn is the source ARN of a bucket notification.
func (t Target) BucketArn(bucket string) string {
	return arn.ARN{Partition: t.Partition, Service: "s3", Resource: bucket}.String()
}

// TopicArn resolves a topic name in the function's account and region.
// ARNs are returned unchanged.
func (t Target) TopicArn(topic string) string {
	if IsArn(topic) {
		return topic
	}
	return arn.ARN{
		Partition: t.Partition,
		Service:   "sns",
		Region:    t.Region,
		AccountID: t.Account,
		Resource:  topic,
	}.String()
}

// IsArn reports whether s looks like an ARN rather than a name.
func IsArn(s string) bool {
	return arn.IsARN(s)
}
