package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	ran     []string
	mutated []string
}

func (r *recordingRunner) Run(_ context.Context, host, command string) (string, string, error) {
	r.ran = append(r.ran, command)
	return "out", "", nil
}

func (r *recordingRunner) Mutate(_ context.Context, host, command string) (string, string, error) {
	r.mutated = append(r.mutated, command)
	return "", "", nil
}

func (r *recordingRunner) CopyDown(context.Context, string, string, string) error { return nil }

func (r *recordingRunner) Probe(context.Context, string, time.Duration) error { return nil }

func TestDryRunnerSuppressesMutations(t *testing.T) {
	inner := &recordingRunner{}
	d := &DryRunner{Inner: inner}

	stdout, _, err := d.Run(context.Background(), "h", "qm list")
	require.NoError(t, err)
	assert.Equal(t, "out", stdout)

	_, _, err = d.Mutate(context.Background(), "h", "pvecm create c")
	require.NoError(t, err)

	assert.Equal(t, []string{"qm list"}, inner.ran)
	assert.Empty(t, inner.mutated, "mutations must never reach the transport in dry-run")
}

func TestAttempt(t *testing.T) {
	inner := &recordingRunner{}
	outcome := Attempt(context.Background(), inner, "h", "systemctl stop corosync")
	assert.True(t, outcome.Attempted)
	assert.True(t, outcome.Succeeded)
	assert.Equal(t, []string{"systemctl stop corosync"}, inner.mutated)
}

type failingRunner struct{ recordingRunner }

func (f *failingRunner) Mutate(_ context.Context, host, command string) (string, string, error) {
	return "", "no such unit", errors.New("exit 5")
}

func TestAttemptFoldsFailure(t *testing.T) {
	outcome := Attempt(context.Background(), &failingRunner{}, "h", "systemctl stop corosync")
	assert.True(t, outcome.Attempted)
	assert.False(t, outcome.Succeeded)
	assert.Error(t, outcome.Err)
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Host: "pm1", Command: "pvecm create c", Stderr: "exists", Err: errors.New("exit 1")}
	assert.Contains(t, err.Error(), "pm1")
	assert.Contains(t, err.Error(), "exists")
	assert.ErrorIs(t, err, err.Err)
}
