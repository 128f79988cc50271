package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
)

// Pool caches one SSH connection per host for the duration of a run and
// implements remote.Runner on top of it. Connections are opened lazily on
// first use and closed together by Close.
type Pool struct {
	mu      sync.Mutex
	auth    map[string]AuthConfig
	clients map[string]*Client
	// perCommand bounds every remote command so a hung node cannot stall
	// the whole run.
	perCommand time.Duration
}

// NewPool creates a pool with per-host authentication. The command timeout
// applies to every Run/Mutate call unless the caller's context expires
// first.
func NewPool(auth map[string]AuthConfig, perCommand time.Duration) *Pool {
	if perCommand <= 0 {
		perCommand = 120 * time.Second
	}
	return &Pool{
		auth:       auth,
		clients:    make(map[string]*Client),
		perCommand: perCommand,
	}
}

func (p *Pool) client(ctx context.Context, host string) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[host]; ok {
		p.mu.Unlock()
		return c, nil
	}
	auth, ok := p.auth[host]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no credentials configured for %s", host)
	}

	c, err := Dial(ctx, host, auth)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[host]; ok {
		_ = c.Close()
		return existing, nil
	}
	p.clients[host] = c
	return c, nil
}

// Run executes a read-only command on the given host.
func (p *Pool) Run(ctx context.Context, host, command string) (string, string, error) {
	c, err := p.client(ctx, host)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", remote.ErrUnreachableNode, host, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.perCommand)
	defer cancel()

	stdout, stderr, err := c.Run(ctx, command)
	if err != nil {
		return stdout, stderr, &remote.CommandError{Host: host, Command: command, Stderr: stderr, Err: err}
	}
	return stdout, stderr, nil
}

// Mutate executes a state-changing command. On the real transport it is
// identical to Run; the distinction exists so remote.DryRunner can suppress
// mutations.
func (p *Pool) Mutate(ctx context.Context, host, command string) (string, string, error) {
	return p.Run(ctx, host, command)
}

// CopyDown pulls a remote file to a local path by streaming it through a
// cat session, which keeps the transport surface to plain command
// execution.
func (p *Pool) CopyDown(ctx context.Context, host, remotePath, localPath string) error {
	stdout, stderr, err := p.Run(ctx, host, fmt.Sprintf("cat %q", remotePath))
	if err != nil {
		return fmt.Errorf("failed to read %s on %s: %w (stderr: %s)", remotePath, host, err, stderr)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local backup dir: %w", err)
	}
	if err := os.WriteFile(localPath, []byte(stdout), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

// Probe checks TCP reachability of the host's SSH port within the given
// timeout. It does not authenticate; preflight only needs to know the node
// answers.
func (p *Pool) Probe(ctx context.Context, host string, timeout time.Duration) error {
	auth := p.auth[host]
	addr := hostAddr(host, auth.Port)

	dialer := &net.Dialer{Timeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", remote.ErrUnreachableNode, host, err)
	}
	_ = conn.Close()
	return nil
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for host, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection to %s: %w", host, err)
		}
		delete(p.clients, host)
	}
	return firstErr
}

var _ remote.Runner = (*Pool)(nil)
var _ io.Closer = (*Pool)(nil)
