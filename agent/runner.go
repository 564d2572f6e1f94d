// Package agent runs pulse instructions against the external agent CLI.
package agent

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsed/pulse"
)

// Config describes the agent subprocess invocation
type Config struct {
	Binary     string        // Agent CLI binary (resolved via PATH if relative)
	Args       []string      // Arguments inserted before the prompt
	Timeout    time.Duration // Maximum execution duration
	WorkingDir string        // Working directory; empty means inherit
}

// Runner executes pulses by spawning the agent CLI. It implements
// pulse.Executor: every failure mode (spawn error, non-zero exit, timeout)
// normalizes into the result, never an error across the boundary.
type Runner struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewRunner creates an executor for the configured agent binary
func NewRunner(cfg Config, logger *zap.SugaredLogger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes one pulse's instruction. The prompt goes last on the argv;
// a session id resumes the prior conversation; sticky notes ride along as
// additional context appended to the prompt.
func (r *Runner) Run(ctx context.Context, p *pulse.Pulse) pulse.ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := make([]string, 0, len(r.cfg.Args)+3)
	args = append(args, r.cfg.Args...)
	if p.SessionID != "" {
		args = append(args, "--resume", p.SessionID)
	}
	args = append(args, buildPrompt(p))

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	cmd.Env = os.Environ()
	if r.cfg.WorkingDir != "" {
		cmd.Dir = r.cfg.WorkingDir
	}

	// The agent spawns its own children. Run the whole tree in one process
	// group and kill the group on timeout: killing only the direct child
	// would leave grandchildren holding the output pipes, and Wait would
	// block past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// If anything in the group survives the kill, abandon its pipes
	// rather than block the scheduler loop.
	cmd.WaitDelay = 5 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debugw("Spawning agent process",
		"pulse_id", p.ID,
		"binary", r.cfg.Binary,
		"session_id", p.SessionID,
		"timeout", r.cfg.Timeout)

	start := time.Now()
	err := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	result := pulse.ExecutionResult{
		Output:     output.String(),
		DurationMs: durationMs,
	}

	switch {
	case err == nil:
		result.Success = true
	case runCtx.Err() == context.DeadlineExceeded:
		// CommandContext killed the subprocess when the deadline passed
		result.Error = "execution timed out after " + r.cfg.Timeout.String()
	default:
		// Covers both spawn failures and non-zero exits
		result.Error = err.Error()
	}

	if !result.Success {
		r.logger.Debugw("Agent process failed",
			"pulse_id", p.ID,
			"duration_ms", durationMs,
			"error", result.Error)
	}

	return result
}

// buildPrompt combines the instruction with its carried-forward context
func buildPrompt(p *pulse.Pulse) string {
	if p.StickyNotes == "" {
		return p.Prompt
	}
	var b strings.Builder
	b.WriteString(p.Prompt)
	b.WriteString("\n\nSticky notes (context carried forward):\n")
	b.WriteString(p.StickyNotes)
	return b.String()
}
