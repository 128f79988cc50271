// Package remotetest provides a scripted remote.Runner for tests. Phases
// depend only on the remote.Runner contract, so tests script command
// responses instead of standing up SSH.
package remotetest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

var _ remote.Runner = (*Runner)(nil)

// Call records one command issued against the fake.
type Call struct {
	Host    string
	Command string
	Mutate  bool
}

// Runner is a scripted remote.Runner. Zero value: every command succeeds
// with empty output, every probe passes, every copy writes an empty file.
type Runner struct {
	// OnRun scripts read commands. Nil means success with empty output.
	OnRun func(host, command string) (stdout, stderr string, err error)
	// OnMutate scripts mutating commands; falls back to OnRun when nil.
	OnMutate func(host, command string) (stdout, stderr string, err error)
	// ProbeErr holds per-host probe failures.
	ProbeErr map[string]error
	// Files maps remote paths to contents served by CopyDown.
	Files map[string]string

	Calls  []Call
	Probes []string
}

func (r *Runner) Run(_ context.Context, host, command string) (string, string, error) {
	r.Calls = append(r.Calls, Call{Host: host, Command: command})
	if r.OnRun != nil {
		return r.OnRun(host, command)
	}
	return "", "", nil
}

func (r *Runner) Mutate(_ context.Context, host, command string) (string, string, error) {
	r.Calls = append(r.Calls, Call{Host: host, Command: command, Mutate: true})
	if r.OnMutate != nil {
		return r.OnMutate(host, command)
	}
	if r.OnRun != nil {
		return r.OnRun(host, command)
	}
	return "", "", nil
}

func (r *Runner) CopyDown(_ context.Context, host, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	content := r.Files[remotePath]
	return os.WriteFile(localPath, []byte(content), 0o600)
}

func (r *Runner) Probe(_ context.Context, host string, _ time.Duration) error {
	r.Probes = append(r.Probes, host)
	if err, ok := r.ProbeErr[host]; ok {
		return err
	}
	return nil
}

// CommandsFor returns the commands issued against one host, in order.
func (r *Runner) CommandsFor(host string) []string {
	var cmds []string
	for _, c := range r.Calls {
		if c.Host == host {
			cmds = append(cmds, c.Command)
		}
	}
	return cmds
}

// MutationsMatching counts mutating calls whose command contains substr.
func (r *Runner) MutationsMatching(substr string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Mutate && strings.Contains(c.Command, substr) {
			n++
		}
	}
	return n
}
