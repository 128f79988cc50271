// Package network benchmarks inter-node throughput and applies the LACP
// bonding layout that the migration depends on for acceptable transfer
// times. The apply step is idempotent: the rendered interfaces file is a
// pure function of the node's configured interface list, so re-running it
// is the documented recovery path when bonding needs to be reapplied.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/notdabob/proxmox-ve-toolkit/internal/config"
	"github.com/notdabob/proxmox-ve-toolkit/internal/logging"
	"github.com/notdabob/proxmox-ve-toolkit/internal/remote"
	"github.com/notdabob/proxmox-ve-toolkit/internal/report"
)

// BenchmarkHeader is the schema shared by the baseline and post-LACP CSVs.
var BenchmarkHeader = []string{"Source", "Target", "Bandwidth_Mbps", "Latency_ms", "Result"}

// Optimizer runs the three-step network phase: baseline sweep, bonding
// apply, post-change sweep.
type Optimizer struct {
	Runner remote.Runner
	// TestSeconds is the iperf3 test duration per pair.
	TestSeconds int
	// PingCount is the number of latency probes averaged per pair.
	PingCount int
}

// NewOptimizer returns an Optimizer with the production 10s/3-probe policy.
func NewOptimizer(r remote.Runner) *Optimizer {
	return &Optimizer{Runner: r, TestSeconds: 10, PingCount: 3}
}

// Optimize runs the full phase. Step 1 completes across all pairs before
// step 2 touches any node, and step 2 completes on all nodes before step 3
// begins. No automatic accept/revert decision is made; the operator
// compares the two CSVs.
func (o *Optimizer) Optimize(ctx context.Context, nodes []config.Node, reportsDir, ts string) error {
	log := logging.L().With("component", "network")

	log.Infow("step 1: baseline pairwise benchmark")
	if err := o.Sweep(ctx, nodes, reportsDir, "network_baseline", ts); err != nil {
		return err
	}

	log.Infow("step 2: applying LACP bonding", "nodes", len(nodes))
	for _, node := range nodes {
		if err := o.ApplyBonding(ctx, node); err != nil {
			return err
		}
	}

	log.Infow("step 3: post-change pairwise benchmark")
	return o.Sweep(ctx, nodes, reportsDir, "network_postlacp", ts)
}

// Sweep benchmarks every ordered node pair and appends one row per pair. A
// failing pair is recorded as a zero-bandwidth ERROR row rather than
// aborting the matrix.
func (o *Optimizer) Sweep(ctx context.Context, nodes []config.Node, reportsDir, name, ts string) error {
	csv, err := report.NewCSV(reportsDir, name, ts, BenchmarkHeader)
	if err != nil {
		return err
	}
	defer csv.Close()

	for _, src := range nodes {
		for _, dst := range nodes {
			if src.Name == dst.Name {
				continue
			}

			mbps, latency, err := o.benchmarkPair(ctx, src, dst)
			result := "SUCCESS"
			if err != nil {
				logging.L().Errorw("benchmark pair failed",
					"source", src.Name, "target", dst.Name, "err", err)
				mbps, latency = 0, 0
				result = "ERROR"
			}

			if err := csv.Append(src.Name, dst.Name,
				strconv.FormatFloat(mbps, 'f', 2, 64),
				strconv.FormatFloat(latency, 'f', 3, 64),
				result); err != nil {
				return err
			}
		}
	}
	return nil
}

// iperfResult is the slice of iperf3 JSON output we care about.
type iperfResult struct {
	End struct {
		SumReceived struct {
			BitsPerSecond float64 `json:"bits_per_second"`
		} `json:"sum_received"`
	} `json:"end"`
}

func (o *Optimizer) benchmarkPair(ctx context.Context, src, dst config.Node) (mbps, latencyMs float64, err error) {
	// One-shot daemonized listener; -1 makes it exit after a single test so
	// sweeps don't leave servers behind.
	if _, stderr, err := o.Runner.Run(ctx, dst.Address, "iperf3 -s -D -1"); err != nil {
		return 0, 0, fmt.Errorf("failed to start listener on %s: %w (stderr: %s)", dst.Name, err, stderr)
	}

	cmd := fmt.Sprintf("iperf3 -c %s -t %d -J", dst.Address, o.TestSeconds)
	stdout, stderr, err := o.Runner.Run(ctx, src.Address, cmd)
	if err != nil {
		return 0, 0, fmt.Errorf("throughput test %s -> %s failed: %w (stderr: %s)", src.Name, dst.Name, err, stderr)
	}

	var res iperfResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		return 0, 0, fmt.Errorf("failed to parse iperf3 output from %s: %w", src.Name, err)
	}
	mbps = res.End.SumReceived.BitsPerSecond / 1e6

	latencyMs, err = o.sampleLatency(ctx, src, dst)
	if err != nil {
		return 0, 0, err
	}
	return mbps, latencyMs, nil
}

var rttRe = regexp.MustCompile(`= [\d.]+/([\d.]+)/`)

func (o *Optimizer) sampleLatency(ctx context.Context, src, dst config.Node) (float64, error) {
	cmd := fmt.Sprintf("ping -c %d -q %s", o.PingCount, dst.Address)
	stdout, stderr, err := o.Runner.Run(ctx, src.Address, cmd)
	if err != nil {
		return 0, fmt.Errorf("latency probe %s -> %s failed: %w (stderr: %s)", src.Name, dst.Name, err, stderr)
	}

	m := rttRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, fmt.Errorf("failed to parse ping output from %s", src.Name)
	}
	avg, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ping average %q: %w", m[1], err)
	}
	return avg, nil
}

// ApplyBonding renders the node's bonded interfaces file, stages it on the
// node, then atomically replaces the live file and restarts networking.
func (o *Optimizer) ApplyBonding(ctx context.Context, node config.Node) error {
	content := RenderBondInterfaces(node)
	stagePath := "/tmp/interfaces.lacp"

	stage := fmt.Sprintf("cat > %s <<'PVEEOF'\n%sPVEEOF", stagePath, content)
	if _, stderr, err := o.Runner.Mutate(ctx, node.Address, stage); err != nil {
		return fmt.Errorf("failed to stage interfaces file on %s: %w (stderr: %s)", node.Name, err, stderr)
	}

	apply := fmt.Sprintf("mv %s /etc/network/interfaces && systemctl restart networking", stagePath)
	if _, stderr, err := o.Runner.Mutate(ctx, node.Address, apply); err != nil {
		return fmt.Errorf("failed to apply interfaces file on %s: %w (stderr: %s)", node.Name, err, stderr)
	}

	logging.L().Infow("bonding applied", "node", node.Name, "interfaces", node.Interfaces)
	return nil
}
