package commands

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsed/alert"
	"github.com/teranos/pulsed/errors"
	pulsedtest "github.com/teranos/pulsed/internal/testing"
	"github.com/teranos/pulsed/logger"
)

// scriptedProvider returns canned errors from successive Check calls
type scriptedProvider struct {
	checkErrs  []error
	checks     int
	refreshErr error
	refreshes  int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Check(context.Context) error {
	err := p.checkErrs[p.checks]
	p.checks++
	return err
}

func (p *scriptedProvider) Refresh(context.Context) error {
	p.refreshes++
	return p.refreshErr
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (*recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Send(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func newTestAlerter(t *testing.T, notifier alert.Notifier) *alert.Alerter {
	t.Helper()
	database := pulsedtest.CreateTestDB(t)
	return alert.NewAlerter(notifier, alert.NewCooldownStore(database), time.Hour, logger.NewTestLogger())
}

func TestCheckCredentialsHealthy(t *testing.T) {
	provider := &scriptedProvider{checkErrs: []error{nil}}
	notifier := &recordingNotifier{}

	err := checkCredentials(provider, newTestAlerter(t, notifier), logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, provider.refreshes)
	assert.Empty(t, notifier.messages)
}

func TestCheckCredentialsRefreshRecovers(t *testing.T) {
	provider := &scriptedProvider{checkErrs: []error{errors.New("expired"), nil}}
	notifier := &recordingNotifier{}

	err := checkCredentials(provider, newTestAlerter(t, notifier), logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, provider.refreshes)
	assert.Equal(t, 2, provider.checks, "recovery is verified by a second check")
	assert.Empty(t, notifier.messages)
}

func TestCheckCredentialsRefreshRunsButDoesNotRecover(t *testing.T) {
	// A refresh command can exit zero without actually restoring
	// credentials. The daemon must not start on its say-so alone.
	provider := &scriptedProvider{checkErrs: []error{errors.New("expired"), errors.New("still expired")}}
	notifier := &recordingNotifier{}

	err := checkCredentials(provider, newTestAlerter(t, notifier), logger.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still failing after refresh")
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "still expired")
}

func TestCheckCredentialsRefreshFails(t *testing.T) {
	provider := &scriptedProvider{
		checkErrs:  []error{errors.New("expired")},
		refreshErr: errors.New("refresh script missing"),
	}
	notifier := &recordingNotifier{}

	err := checkCredentials(provider, newTestAlerter(t, notifier), logger.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh did not recover")
	require.Len(t, notifier.messages, 1)
}
