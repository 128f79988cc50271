// Package remote defines the narrow contract the migration phases depend on
// to execute commands on cluster nodes. The SSH transport lives in
// internal/ssh; phases only see this interface, which keeps them testable
// against scripted fakes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnreachableNode reports that a node failed its connectivity probe.
var ErrUnreachableNode = errors.New("node unreachable")

// CommandError reports a remote command that returned non-zero or could not
// be started.
type CommandError struct {
	Host    string
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command failed on %s: %v (stderr: %s)", e.Host, e.Err, e.Stderr)
	}
	return fmt.Sprintf("command failed on %s: %v", e.Host, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes commands on remote nodes. Run is for read-only queries;
// Mutate is for commands that change remote state, so a dry-run wrapper can
// suppress them uniformly.
type Runner interface {
	Run(ctx context.Context, host, command string) (stdout, stderr string, err error)
	Mutate(ctx context.Context, host, command string) (stdout, stderr string, err error)
	CopyDown(ctx context.Context, host, remotePath, localPath string) error
	Probe(ctx context.Context, host string, timeout time.Duration) error
}

// BestEffortOutcome records an action that was attempted without blocking
// overall progress on its success. Callers log it and move on; it is a
// distinct type so fire-and-forget commands cannot be mistaken for
// guaranteed ones.
type BestEffortOutcome struct {
	Attempted bool
	Succeeded bool
	Err       error
}

// Attempt runs a mutating command and folds the result into a
// BestEffortOutcome instead of an error.
func Attempt(ctx context.Context, r Runner, host, command string) BestEffortOutcome {
	_, _, err := r.Mutate(ctx, host, command)
	return BestEffortOutcome{Attempted: true, Succeeded: err == nil, Err: err}
}
