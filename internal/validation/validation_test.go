package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

func TestValidateAllPass(t *testing.T) {
	runner := NewExecRunner(Commands{
		Lint:  []string{"true"},
		Test:  []string{"echo", "ok 3 tests"},
		Build: []string{"true"},
	}, time.Minute, nil)

	report, err := runner.Validate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Contains(t, report.Test.Output, "ok 3 tests")
}

func TestValidateCapturesFailure(t *testing.T) {
	runner := NewExecRunner(Commands{
		Lint:  []string{"true"},
		Test:  []string{"sh", "-c", "echo assertion failed; exit 1"},
		Build: []string{"true"},
	}, time.Minute, nil)

	report, err := runner.Validate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, report.Passed())
	assert.True(t, report.Lint.Passed)
	assert.False(t, report.Test.Passed)
	assert.Contains(t, report.Test.Output, "assertion failed")
}

func TestValidateSkipsUnconfiguredChecks(t *testing.T) {
	runner := NewExecRunner(Commands{Test: []string{"true"}}, time.Minute, nil)

	report, err := runner.Validate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Contains(t, report.Lint.Output, "skipped")
	assert.Contains(t, report.Build.Output, "skipped")
}

func TestValidateMissingBinaryFails(t *testing.T) {
	runner := NewExecRunner(Commands{
		Build: []string{"definitely-not-a-real-binary-xyz"},
	}, time.Minute, nil)

	report, err := runner.Validate(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, report.Build.Passed)
	assert.NotEmpty(t, report.Build.Output)
}

func TestFailureErrorNamesFailingChecks(t *testing.T) {
	err := &FailureError{Report: mission.ValidationReport{
		Lint:  mission.CheckResult{Passed: true},
		Test:  mission.CheckResult{Passed: false},
		Build: mission.CheckResult{Passed: true},
	}}
	assert.Equal(t, "validation failed: lint=true test=false build=true", err.Error())
}

func TestValidateCanceledContext(t *testing.T) {
	runner := NewExecRunner(Commands{
		Lint: []string{"true"},
	}, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runner.Validate(ctx, t.TempDir())
	assert.Error(t, err)
	assert.False(t, report.Lint.Passed)
}
