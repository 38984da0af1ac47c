package proxy

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TestResult summarizes one liveness sweep.
type TestResult struct {
	Tested int `json:"tested"`
	Alive  int `json:"alive"`
	Dead   int `json:"dead"`
}

// TestAll probes raw TCP connectivity of every enabled proxy in bounded
// concurrent batches, updating alive, latency, and score (+1 alive,
// -10 dead). A proxy that answers the probe is re-admitted to rotation.
// Mutually exclusive with itself; a reentrant call is a no-op.
func (p *Pool) TestAll(ctx context.Context) (TestResult, error) {
	if !p.testing.CompareAndSwap(false, true) {
		p.logger.Debug("pool: test already running, skipping")
		return TestResult{}, nil
	}
	defer p.testing.Store(false)

	entries, err := p.store.ListEnabledProxies(ctx)
	if err != nil {
		return TestResult{}, err
	}

	var (
		mu  sync.Mutex
		res TestResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ProbeBatch)
	for _, e := range entries {
		g.Go(func() error {
			alive, latency := p.probe(e.Host, e.Port)
			if err := p.store.RecordProbe(gctx, e.ID, alive, latency); err != nil {
				p.logger.Warn("pool: record probe", "id", e.ID, "error", err)
			}
			if alive {
				p.removeBlacklist(e.Host, e.Port)
			}
			mu.Lock()
			res.Tested++
			if alive {
				res.Alive++
			} else {
				res.Dead++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.logger.Info("pool: test done", "tested", res.Tested, "alive", res.Alive, "dead", res.Dead)
	return res, nil
}

// probe dials host:port and returns reachability plus dial latency in ms.
func (p *Pool) probe(host string, port int) (bool, int64) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", hostPort(host, port), p.cfg.ProbeTimeout)
	if err != nil {
		return false, 0
	}
	conn.Close()
	return true, time.Since(start).Milliseconds()
}
