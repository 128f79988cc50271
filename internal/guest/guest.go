// Package guest enumerates and stops the virtual machines and containers on
// a node. Guest state changes underneath every phase as a side effect of
// prior phases, so enumeration is always a fresh remote query, never a
// cache.
package guest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
	"github.com/notdabob/proxmox-ve-toolkit/internal/report"
)

// Kind distinguishes QEMU virtual machines from LXC containers.
type Kind string

const (
	KindVM        Kind = "VM"
	KindContainer Kind = "CT"
)

// Result is the outcome of one guest stop attempt.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultTimeout Result = "TIMEOUT"
	ResultError   Result = "ERROR"
)

// Record is one guest as enumerated on a node at a point in time.
type Record struct {
	Node   string
	Kind   Kind
	ID     int
	Name   string
	Status string
}

// Running reports whether the guest was running at enumeration time.
func (r Record) Running() bool {
	return strings.EqualFold(r.Status, "running")
}

// ShutdownResult is one row of the shutdown report.
type ShutdownResult struct {
	Node    string
	Kind    Kind
	ID      int
	Name    string
	Result  Result
	Seconds int
}

// ShutdownHeader is the shutdown CSV schema.
var ShutdownHeader = []string{"Node", "Type", "ID", "Name", "Result", "Seconds"}

// Controller stops guests with a graceful-then-forced policy.
type Controller struct {
	Runner       remote.Runner
	PollInterval time.Duration
	StopTimeout  time.Duration

	// Injected clock for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewController returns a Controller with the production 5s/300s polling
// policy.
func NewController(r remote.Runner) *Controller {
	return &Controller{
		Runner:       r,
		PollInterval: 5 * time.Second,
		StopTimeout:  300 * time.Second,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

func (c *Controller) clock() (func() time.Time, func(time.Duration)) {
	now, sleep := c.now, c.sleep
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	return now, sleep
}

// List enumerates all guests on a node, virtual machines first, then
// containers.
func List(ctx context.Context, r remote.Runner, node config.Node) ([]Record, error) {
	vms, err := listKind(ctx, r, node, KindVM)
	if err != nil {
		return nil, err
	}
	cts, err := listKind(ctx, r, node, KindContainer)
	if err != nil {
		return nil, err
	}
	return append(vms, cts...), nil
}

func listKind(ctx context.Context, r remote.Runner, node config.Node, kind Kind) ([]Record, error) {
	cmd := "qm list"
	if kind == KindContainer {
		cmd = "pct list"
	}

	stdout, stderr, err := r.Run(ctx, node.Address, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s guests on %s: %w (stderr: %s)", kind, node.Name, err, stderr)
	}
	return parseList(node.Name, kind, stdout), nil
}

// parseList parses `qm list` / `pct list` tabular output. Both start with a
// header line; qm columns are VMID NAME STATUS..., pct columns are VMID
// Status Lock Name.
func parseList(node string, kind Kind, out string) []Record {
	var records []Record
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		if i == 0 || len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}

		rec := Record{Node: node, Kind: kind, ID: id}
		if kind == KindVM {
			if len(fields) >= 3 {
				rec.Name = fields[1]
				rec.Status = fields[2]
			}
		} else {
			rec.Status = fields[1]
			rec.Name = fields[len(fields)-1]
		}
		records = append(records, rec)
	}
	return records
}

// StopAll stops every running guest on every node, recording one CSV row
// per attempt. Unreachable nodes are skipped with a logged error and an
// ERROR row so the skip stays visible to the operator; they do not abort
// the phase.
func (c *Controller) StopAll(ctx context.Context, nodes []config.Node, csv *report.CSV) error {
	log := logging.L().With("component", "guest")

	for _, node := range nodes {
		records, err := List(ctx, c.Runner, node)
		if err != nil {
			log.Errorw("skipping unreachable node during shutdown", "node", node.Name, "err", err)
			if csv != nil {
				if err := csv.Append(node.Name, "NODE", "-", "unreachable", string(ResultError), "0"); err != nil {
					return err
				}
			}
			continue
		}

		for _, rec := range records {
			if !rec.Running() {
				continue
			}
			res := c.StopOne(ctx, node, rec)
			log.Infow("guest stop attempted",
				"node", node.Name, "kind", rec.Kind, "id", rec.ID, "result", res.Result, "seconds", res.Seconds)
			if csv != nil {
				if err := csv.Append(res.Node, string(res.Kind), strconv.Itoa(res.ID), res.Name,
					string(res.Result), strconv.Itoa(res.Seconds)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// StopOne issues a graceful shutdown and polls until the guest reports
// stopped or the timeout lapses. On timeout a forced stop is issued
// fire-and-forget and the result is TIMEOUT; the forced stop's own outcome
// is logged but never escalated.
func (c *Controller) StopOne(ctx context.Context, node config.Node, rec Record) ShutdownResult {
	now, sleep := c.clock()
	start := now()

	result := ShutdownResult{Node: node.Name, Kind: rec.Kind, ID: rec.ID, Name: rec.Name}

	if _, stderr, err := c.Runner.Mutate(ctx, node.Address, shutdownCmd(rec)); err != nil {
		logging.L().Errorw("graceful shutdown command failed",
			"node", node.Name, "id", rec.ID, "err", err, "stderr", stderr)
		result.Result = ResultError
		result.Seconds = int(now().Sub(start).Seconds())
		return result
	}

	// A suppressed shutdown never converges; don't poll a guest that was
	// never asked to stop.
	if _, dry := c.Runner.(*remote.DryRunner); dry {
		result.Result = ResultSuccess
		return result
	}

	for now().Sub(start) < c.StopTimeout {
		if ctx.Err() != nil {
			break
		}
		stdout, _, err := c.Runner.Run(ctx, node.Address, statusCmd(rec))
		if err == nil && strings.Contains(stdout, "stopped") {
			result.Result = ResultSuccess
			result.Seconds = int(now().Sub(start).Seconds())
			return result
		}
		sleep(c.PollInterval)
	}

	// The guest outlived the grace window; force it down and move on.
	outcome := remote.Attempt(ctx, c.Runner, node.Address, forceStopCmd(rec))
	if !outcome.Succeeded {
		logging.L().Warnw("forced stop failed", "node", node.Name, "id", rec.ID, "err", outcome.Err)
	}
	result.Result = ResultTimeout
	result.Seconds = int(now().Sub(start).Seconds())
	return result
}

// EnsureStopped issues an idempotent stop. The migration phase calls it for
// every guest even when an earlier phase already stopped it.
func (c *Controller) EnsureStopped(ctx context.Context, node config.Node, rec Record) error {
	if !rec.Running() {
		return nil
	}
	if _, stderr, err := c.Runner.Mutate(ctx, node.Address, forceStopCmd(rec)); err != nil {
		return fmt.Errorf("failed to stop %s %d on %s: %w (stderr: %s)", rec.Kind, rec.ID, node.Name, err, stderr)
	}
	return nil
}

func shutdownCmd(rec Record) string {
	if rec.Kind == KindVM {
		return fmt.Sprintf("qm shutdown %d", rec.ID)
	}
	return fmt.Sprintf("pct shutdown %d", rec.ID)
}

func forceStopCmd(rec Record) string {
	if rec.Kind == KindVM {
		return fmt.Sprintf("qm stop %d", rec.ID)
	}
	return fmt.Sprintf("pct stop %d", rec.ID)
}

func statusCmd(rec Record) string {
	if rec.Kind == KindVM {
		return fmt.Sprintf("qm status %d", rec.ID)
	}
	return fmt.Sprintf("pct status %d", rec.ID)
}
