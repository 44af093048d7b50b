package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/alvesdmateus/repo-provisioner/internal/observability"
	"github.com/alvesdmateus/repo-provisioner/internal/registry"
	"github.com/alvesdmateus/repo-provisioner/internal/state"
	"github.com/alvesdmateus/repo-provisioner/pkg/config"
	"github.com/alvesdmateus/repo-provisioner/pkg/database"
)

const testConfig = `
registry:
  type: memory
access_defaults:
  writer_principals:
    - arn:aws:iam::123456789012:role/ci
  reader_principals:
    - arn:aws:iam::123456789012:root
history:
  dsn: history.db
log:
  level: error
`

// setupCLI runs the test in a temp directory holding repoctl.yaml and routes
// every registry client to one in-memory registry
func setupCLI(t *testing.T) (string, *registry.MemoryClient) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repoctl.yaml"), []byte(testConfig), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))

	mem := registry.NewMemoryClient()
	original := clientFactory
	clientFactory = func(ctx context.Context, cfg registry.Config) (registry.Client, error) {
		return mem, nil
	}

	t.Cleanup(func() {
		clientFactory = original
		_ = os.Chdir(wd)
		viper.Reset()
	})

	return dir, mem
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReconcileCommand_CreatesThenUnchanged(t *testing.T) {
	_, mem := setupCLI(t)

	out, err := execute(t, "reconcile", "--name", "svc-orders")
	require.NoError(t, err)
	assert.Contains(t, out, "Repository svc-orders reconciled: created")
	assert.Contains(t, out, "applied set_access_policy")
	assert.Contains(t, out, "applied set_lifecycle_policy")

	access, lifecycle, scanOnPush, ok := mem.Snapshot("svc-orders")
	require.True(t, ok)
	assert.Contains(t, string(access), "arn:aws:iam::123456789012:role/ci")
	assert.Contains(t, string(lifecycle), `"countNumber":30`)
	assert.True(t, scanOnPush)

	out, err = execute(t, "reconcile", "--name", "svc-orders")
	require.NoError(t, err)
	assert.Contains(t, out, "Repository svc-orders reconciled: unchanged")
	assert.Equal(t, 1, mem.Calls(registry.OpCreate))
}

func TestReconcileCommand_Failure(t *testing.T) {
	_, mem := setupCLI(t)
	mem.FailOn(registry.OpSetLifecyclePolicy, registry.ErrTransport{
		Operation: registry.OpSetLifecyclePolicy,
		Err:       errors.New("throttled"),
	})

	out, err := execute(t, "reconcile", "--name", "svc-orders")
	require.ErrorIs(t, err, ErrReconcileFailed)
	assert.Contains(t, out, "reconciliation failed with 1 error(s)")
	assert.Contains(t, out, "throttled")

	// the repository and access policy stay in place
	access, _, _, ok := mem.Snapshot("svc-orders")
	require.True(t, ok)
	assert.NotEmpty(t, access)
}

func TestReconcileCommand_MissingName(t *testing.T) {
	_, mem := setupCLI(t)

	_, err := execute(t, "reconcile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository name is required")
	assert.Zero(t, mem.Calls(registry.OpProbe))
}

func TestReconcileCommand_NameFromActionInput(t *testing.T) {
	_, mem := setupCLI(t)
	t.Setenv("INPUT_DOCKER_REPO_NAME", "svc-billing")

	_, err := execute(t, "reconcile")
	require.NoError(t, err)

	_, _, _, ok := mem.Snapshot("svc-billing")
	assert.True(t, ok)
}

func TestReconcileCommand_NoLifecycle(t *testing.T) {
	_, mem := setupCLI(t)

	out, err := execute(t, "reconcile", "--name", "svc-orders", "--no-lifecycle", "--scan-on-push=false")
	require.NoError(t, err)
	assert.NotContains(t, out, "set_lifecycle_policy")

	_, lifecycle, scanOnPush, ok := mem.Snapshot("svc-orders")
	require.True(t, ok)
	assert.Nil(t, lifecycle)
	assert.False(t, scanOnPush)
	assert.Zero(t, mem.Calls(registry.OpSetLifecyclePolicy))
}

func TestReconcileCommand_LifecycleAndAccessFiles(t *testing.T) {
	dir, mem := setupCLI(t)

	rules := `
rules:
  - priority: 1
    tagStatus: tagged
    tagPrefixes: [test-]
    countType: imageCountMoreThan
    countNumber: 20
`
	override := `{"Version":"2012-10-17","Statement":[{"Sid":"Pull","Effect":"Allow","Principal":"*","Action":"ecr:BatchGetImage"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lifecycle.yaml"), []byte(rules), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.json"), []byte(override), 0o600))

	_, err := execute(t, "reconcile",
		"--name", "svc-orders",
		"--lifecycle-file", "lifecycle.yaml",
		"--access-policy-file", "policy.json",
	)
	require.NoError(t, err)

	access, lifecycle, _, ok := mem.Snapshot("svc-orders")
	require.True(t, ok)
	assert.Equal(t, override, string(access))
	assert.Contains(t, string(lifecycle), `"tagPrefixList":["test-"]`)
}

func TestReconcileCommand_InvalidLifecycleFile(t *testing.T) {
	dir, mem := setupCLI(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lifecycle.yaml"), []byte("rules:\n  - priorty: 1\n"), 0o600))

	_, err := execute(t, "reconcile", "--name", "svc-orders", "--lifecycle-file", "lifecycle.yaml")
	require.Error(t, err)
	assert.Zero(t, mem.Calls(registry.OpProbe))
}

func TestHistoryCommand(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")

	_, err = execute(t, "reconcile", "--name", "svc-orders", "--history")
	require.NoError(t, err)
	_, err = execute(t, "reconcile", "--name", "svc-orders", "--history")
	require.NoError(t, err)

	out, err = execute(t, "history", "--name", "svc-orders", "--operations")
	require.NoError(t, err)
	assert.Contains(t, out, "REPOSITORY")
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "unchanged")
	assert.Contains(t, out, "set_access_policy")

	out, err = execute(t, "history", "--name", "svc-billing")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestHistoryCommand_SingleRun(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "reconcile", "--name", "svc-orders", "--history")
	require.NoError(t, err)
	_, err = execute(t, "reconcile", "--name", "svc-orders", "--history")
	require.NoError(t, err)

	out, err := execute(t, "history", "--latest", "--name", "svc-orders")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")
	assert.Contains(t, out, "set_access_policy")

	db, repo, err := openHistory(config.HistoryConfig{DSN: "history.db"})
	require.NoError(t, err)
	runs, err := repo.ListRuns(context.Background(), "svc-orders", 0)
	database.Close(db)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	first := runs[1]
	require.Equal(t, "created", first.Outcome)

	out, err = execute(t, "history", "--run", first.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, first.ID.String())
	assert.Contains(t, out, "created")
	assert.NotContains(t, out, runs[0].ID.String())
	assert.Contains(t, out, "set_lifecycle_policy")

	out, err = execute(t, "history", "--latest", "--name", "svc-billing")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestHistoryCommand_InvalidArguments(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "history", "--run", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run ID")

	_, err = execute(t, "history", "--run", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")

	_, err = execute(t, "history", "--latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--latest requires --name")

	_, err = execute(t, "history", "--latest", "--name", "svc-orders", "--run", uuid.NewString())
	assert.Error(t, err)
}

func TestOpenHistory(t *testing.T) {
	dir := t.TempDir()

	db, repo, err := openHistory(config.HistoryConfig{DSN: filepath.Join(dir, "history.db")})
	require.NoError(t, err)
	defer database.Close(db)

	for _, model := range state.Models() {
		assert.True(t, database.HasTable(db, model))
	}
	run, err := repo.LatestRun(context.Background(), "svc-orders")
	require.NoError(t, err)
	assert.Nil(t, run)

	_, _, err = openHistory(config.HistoryConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestReconcileCommand_SpanCarriesTarget(t *testing.T) {
	setupCLI(t)

	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, err := execute(t, "reconcile", "--name", "svc-orders", "--region", "eu-west-1")
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, span := range recorder.Ended() {
		if span.Name() == "reconcile" {
			for _, kv := range span.Attributes() {
				attrs[kv.Key] = kv.Value.Emit()
			}
		}
	}
	assert.Equal(t, "svc-orders", attrs[observability.AttrRepositoryName])
	assert.Equal(t, "memory", attrs[observability.AttrRegistryType])
	assert.Equal(t, "eu-west-1", attrs[observability.AttrRegistryRegion])
	assert.Equal(t, "created", attrs[observability.AttrOutcome])
}

func TestPolicyRenderCommand(t *testing.T) {
	setupCLI(t)

	out, err := execute(t, "policy", "render")
	require.NoError(t, err)
	assert.Contains(t, out, "# lifecycle policy")
	assert.Contains(t, out, `"rulePriority": 10`)
	assert.Contains(t, out, "# access policy")
	assert.Contains(t, out, `"Sid": "AllowReadWrite"`)

	out, err = execute(t, "policy", "render", "--compact")
	require.NoError(t, err)
	assert.Contains(t, out, `"rulePriority":10`)
}

func TestPolicyRenderCommand_NoPrincipals(t *testing.T) {
	dir, _ := setupCLI(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repoctl.yaml"), []byte("log:\n  level: error\n"), 0o600))

	_, err := execute(t, "policy", "render")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "repoctl dev")
}
