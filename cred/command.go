package cred

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/errors"
)

const commandTimeout = 60 * time.Second

// commandProvider shells out to operator-supplied commands. The check
// command's exit status decides validity; the refresh command is optional.
type commandProvider struct {
	checkCommand   string
	refreshCommand string
}

func newCommandProvider(cfg am.CredConfig) (Provider, error) {
	if strings.TrimSpace(cfg.CheckCommand) == "" {
		return nil, errors.New("command credential provider requires cred.check_command")
	}
	return &commandProvider{
		checkCommand:   cfg.CheckCommand,
		refreshCommand: cfg.RefreshCommand,
	}, nil
}

func (p *commandProvider) Name() string { return "command" }

func (p *commandProvider) Check(ctx context.Context) error {
	if err := p.run(ctx, p.checkCommand); err != nil {
		return errors.Wrap(err, "credential check failed")
	}
	return nil
}

func (p *commandProvider) Refresh(ctx context.Context) error {
	if strings.TrimSpace(p.refreshCommand) == "" {
		return errors.New("no refresh command configured")
	}
	if err := p.run(ctx, p.refreshCommand); err != nil {
		return errors.Wrap(err, "credential refresh failed")
	}
	return nil
}

func (p *commandProvider) run(ctx context.Context, command string) error {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return errors.Newf("command timed out after %s", commandTimeout)
		}
		return errors.Wrapf(err, "command failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}
