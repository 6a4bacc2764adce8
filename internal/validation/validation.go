// Package validation runs the lint, test and build checks of the validation
// phase against the mission workspace.
package validation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// Runner produces a validation report for a repository.
type Runner interface {
	Validate(ctx context.Context, repoPath string) (mission.ValidationReport, error)
}

// FailureError reports a validation run with at least one failing check.
// It carries the full report so callers can show which checks failed.
type FailureError struct {
	Report mission.ValidationReport
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("validation failed: lint=%t test=%t build=%t",
		e.Report.Lint.Passed, e.Report.Test.Passed, e.Report.Build.Passed)
}

// Commands configures the exec runner. An empty command skips its check,
// which counts as passed.
type Commands struct {
	Lint  []string
	Test  []string
	Build []string
}

// ExecRunner runs validation checks as subprocesses in the repository
// directory.
type ExecRunner struct {
	commands Commands
	timeout  time.Duration
	logger   *zap.Logger
}

// NewExecRunner creates a runner. A zero timeout defaults to 10 minutes per
// check. A nil logger is replaced with a no-op logger.
func NewExecRunner(commands Commands, timeout time.Duration, logger *zap.Logger) *ExecRunner {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{commands: commands, timeout: timeout, logger: logger}
}

// Validate runs the three checks in order and returns their results. Check
// failures land in the report, not the error; the error covers infrastructure
// problems only.
func (r *ExecRunner) Validate(ctx context.Context, repoPath string) (mission.ValidationReport, error) {
	report := mission.ValidationReport{
		Lint:  r.runCheck(ctx, repoPath, "lint", r.commands.Lint),
		Test:  r.runCheck(ctx, repoPath, "test", r.commands.Test),
		Build: r.runCheck(ctx, repoPath, "build", r.commands.Build),
	}
	return report, ctx.Err()
}

func (r *ExecRunner) runCheck(ctx context.Context, repoPath, name string, command []string) mission.CheckResult {
	if len(command) == 0 {
		return mission.CheckResult{Passed: true, Output: "skipped: no command configured"}
	}
	if ctx.Err() != nil {
		return mission.CheckResult{Passed: false, Output: "canceled before running"}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = repoPath

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()

	r.logger.Info("validation check finished",
		zap.String("check", name),
		zap.Bool("passed", err == nil),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err != nil {
		if output == "" {
			output = err.Error()
		} else {
			output = fmt.Sprintf("%s\n%v", output, err)
		}
		return mission.CheckResult{Passed: false, Output: output}
	}
	return mission.CheckResult{Passed: true, Output: output}
}
