package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
	"github.com/picklr-io/fnstack/providers/aws/awsfake"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PollInterval = time.Millisecond
	cfg.ActivationAttempts = 20
	cfg.DeleteTimeout = time.Second
	return cfg
}

func zipInput(name string, zip []byte) FunctionInput {
	return FunctionInput{
		Spec: ir.Spec{
			Name:       name,
			Runtime:    "python3.12",
			Handler:    "app.handler",
			MemorySize: 128,
			Environment: map[string]string{
				"STAGE": "prod",
			},
		},
		RoleArn: "arn:aws:iam::123456789012:role/exec",
		Code:    Code{Zip: zip, Sha256: Sha256(zip)},
	}
}

func runFunction(t *testing.T, k *Functions, in FunctionInput, prior *ir.Handle) Result[FunctionState] {
	t.Helper()
	res, err := Run[FunctionInput, FunctionState](context.Background(), k, in, RefTo(prior))
	require.NoError(t, err)
	return res
}

func TestFunctionCreateWaitsForActive(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	cloud.Lambda.ActivateAfter = 3
	k := NewFunctions(cloud.Lambda, testConfig())

	res := runFunction(t, k, zipInput("f1", []byte("v1")), nil)

	assert.True(t, res.Handle.CreatedByUs)
	assert.Equal(t, "f1", res.Handle.ID)
	assert.Equal(t, types.StateActive, res.State.Config.State)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:f1", res.State.Arn())
	assert.GreaterOrEqual(t, cloud.Count("lambda.GetFunction"), 3)
}

func TestFunctionRedeployIsNoop(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	k := NewFunctions(cloud.Lambda, testConfig())
	in := zipInput("f1", []byte("v1"))
	first := runFunction(t, k, in, nil)

	cloud.Reset()
	second := runFunction(t, k, in, &first.Handle)

	assert.Equal(t, OutcomeNoop, second.Outcome)
	assert.Empty(t, cloud.Mutations())
	assert.True(t, second.Handle.CreatedByUs)
}

func TestFunctionConfigChangeSkipsCodeUpload(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	k := NewFunctions(cloud.Lambda, testConfig())
	in := zipInput("f1", []byte("v1"))
	runFunction(t, k, in, nil)

	cloud.Reset()
	in.Spec.MemorySize = 512
	res := runFunction(t, k, in, nil)

	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, []string{"memorySize"}, res.Changes.Fields())
	assert.Equal(t, 1, cloud.Count("lambda.UpdateFunctionConfiguration"))
	assert.Zero(t, cloud.Count("lambda.UpdateFunctionCode"))
}

func TestFunctionCodeChangeSkipsConfiguration(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	k := NewFunctions(cloud.Lambda, testConfig())
	runFunction(t, k, zipInput("f1", []byte("v1")), nil)

	cloud.Reset()
	res := runFunction(t, k, zipInput("f1", []byte("v2")), nil)

	assert.Equal(t, []string{fieldCodeSha256}, res.Changes.Fields())
	assert.Zero(t, cloud.Count("lambda.UpdateFunctionConfiguration"))
	assert.Equal(t, 1, cloud.Count("lambda.UpdateFunctionCode"))
	assert.Equal(t, Sha256([]byte("v2")), *res.State.Config.CodeSha256)
}

func TestFunctionS3CodeChangesByLocation(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	k := NewFunctions(cloud.Lambda, testConfig())
	in := zipInput("f1", nil)
	in.Code = Code{S3Bucket: "artifacts", S3Key: "f1/v1.zip"}
	runFunction(t, k, in, nil)

	cloud.Reset()
	in.PriorSource = in.Code.Source()
	res := runFunction(t, k, in, nil)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	in.Code.S3Key = "f1/v2.zip"
	res = runFunction(t, k, in, nil)
	assert.Equal(t, []string{fieldCodeSource}, res.Changes.Fields())
	assert.Equal(t, 1, cloud.Count("lambda.UpdateFunctionCode"))
}

func TestFunctionActivationFailure(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	cloud.Lambda.FailActivations = 1
	k := NewFunctions(cloud.Lambda, testConfig())

	res, err := Run[FunctionInput, FunctionState](context.Background(), k, zipInput("f1", []byte("v1")), Ref{})
	require.Error(t, err)
	assert.True(t, IsActivationFailure(err))
	assert.True(t, res.Handle.CreatedByUs)
	assert.Equal(t, "f1", res.Handle.ID)
}

func TestFunctionCreateRetriesWhileRolePropagates(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	cloud.FailNext("lambda.CreateFunction",
		provider.NewError("InvalidParameterValueException", "The role defined for the function cannot be assumed by Lambda."))
	k := NewFunctions(cloud.Lambda, testConfig())

	res := runFunction(t, k, zipInput("f1", []byte("v1")), nil)
	assert.True(t, res.Created())
	assert.Equal(t, 2, cloud.Count("lambda.CreateFunction"))
}

func TestFunctionCreateGivesUpWhenRoleNeverPropagates(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	for range rolePropagationAttempts {
		cloud.FailNext("lambda.CreateFunction",
			provider.NewError("InvalidParameterValueException", "The role defined for the function cannot be assumed by Lambda."))
	}
	k := NewFunctions(cloud.Lambda, testConfig())

	_, err := Run[FunctionInput, FunctionState](context.Background(), k, zipInput("f1", []byte("v1")), Ref{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be assumed")
	assert.Equal(t, rolePropagationAttempts, cloud.Count("lambda.CreateFunction"))
	_, found := cloud.Lambda.Function("f1")
	assert.False(t, found)
}

func TestFunctionCreateDoesNotRetryOtherErrors(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	cloud.FailNext("lambda.CreateFunction", provider.NewError("InvalidParameterValueException", "Unsupported runtime"))
	k := NewFunctions(cloud.Lambda, testConfig())

	_, err := Run[FunctionInput, FunctionState](context.Background(), k, zipInput("f1", []byte("v1")), Ref{})
	require.Error(t, err)
	assert.Equal(t, 1, cloud.Count("lambda.CreateFunction"))
}

func TestFunctionDeleteWaitsUntilGone(t *testing.T) {
	cloud := awsfake.New("us-east-1", "123456789012")
	k := NewFunctions(cloud.Lambda, testConfig())
	runFunction(t, k, zipInput("f1", []byte("v1")), nil)

	require.NoError(t, k.Delete(context.Background(), "f1"))
	_, ok := cloud.Lambda.Function("f1")
	assert.False(t, ok)

	require.NoError(t, k.Delete(context.Background(), "f1"), "deleting twice is fine")
}

func TestLoadCodeDirectoryIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("def handler(e, c): pass\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.py"), []byte("X = 1\n"), 0o644))

	a, err := LoadCode(ir.CodeSpec{Path: dir})
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "app.py"), time.Now(), time.Now().Add(time.Hour)))
	b, err := LoadCode(ir.CodeSpec{Path: dir})
	require.NoError(t, err)
	assert.Equal(t, a.Sha256, b.Sha256)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.py"), []byte("X = 2\n"), 0o644))
	c, err := LoadCode(ir.CodeSpec{Path: dir})
	require.NoError(t, err)
	assert.NotEqual(t, a.Sha256, c.Sha256)
}

func TestLoadCode(t *testing.T) {
	_, err := LoadCode(ir.CodeSpec{})
	assert.Error(t, err)

	_, err = LoadCode(ir.CodeSpec{S3Bucket: "b"})
	assert.Error(t, err)

	c, err := LoadCode(ir.CodeSpec{S3Bucket: "b", S3Key: "k.zip"})
	require.NoError(t, err)
	assert.Equal(t, "s3://b/k.zip", c.Source())

	zipPath := filepath.Join(t.TempDir(), "fn.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("PK"), 0o644))
	c, err = LoadCode(ir.CodeSpec{Path: zipPath})
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), c.Zip)
	assert.Equal(t, awsfake.CodeSha256([]byte("PK")), c.Sha256)
}
