// Package sigmgr keeps clamd's signature set in sync with whatever
// ClamAV/YARA matchers the currently-enabled scenarios reference: on
// every scenario reload it rescans the rule text, writes a
// deduplicated NDB file and asks clamd to reload it.
package sigmgr

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/rules"
	"github.com/ternarybob/ctxpipe/internal/sigmgr/sigcache"
)

// Manager rescans scenarios and redeploys the NDB file, both on a
// jittered poll schedule and immediately on a ctx.screload event.
type Manager struct {
	cfg    Config
	db     *graphdb.DB
	bus    *broker.Bus
	cache  *sigcache.Cache
	logger arbor.ILogger

	schedule cron.Schedule

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewManager(db *graphdb.DB, bus *broker.Bus, cfg Config, logger arbor.ILogger) (*Manager, error) {
	sched, err := cron.ParseStandard(cfg.PollSchedule)
	if err != nil {
		return nil, fmt.Errorf("sigmgr: parse poll schedule %q: %w", cfg.PollSchedule, err)
	}
	cache, err := sigcache.Open(cfg.SigCachePath)
	if err != nil {
		return nil, fmt.Errorf("sigmgr: open sigcache: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		db:       db,
		bus:      bus,
		cache:    cache,
		logger:   logger,
		schedule: sched,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs the poll loop and the reload subscriber. Both call
// Reconcile; Reconcile itself is safe to run concurrently with
// itself since sigcache.Replace is the only shared mutable state and
// badger transactions serialize it.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.pollLoop(ctx)
	go m.watchReload(ctx)
}

func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
	m.cache.Close()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	now := time.Now()
	for {
		next := m.schedule.Next(now)
		jitter := time.Duration(rand.Int63n(int64(m.cfg.JitterMax) + 1))
		timer := time.NewTimer(time.Until(next) + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stop:
			timer.Stop()
			return
		case now = <-timer.C:
			if err := m.Reconcile(ctx); err != nil {
				m.logger.Error().Err(err).Msg("sigmgr: scheduled reconcile failed")
			}
		}
	}
}

func (m *Manager) watchReload(ctx context.Context) {
	defer m.wg.Done()
	events, cancel := m.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Topic != broker.ScreloadTopic {
				continue
			}
			if err := m.Reconcile(ctx); err != nil {
				m.logger.Error().Err(err).Msg("sigmgr: reload-triggered reconcile failed")
			}
		}
	}
}

// Reconcile rescans every enabled scenario's rule text for signature
// matchers, diffs the deduplicated set against what was last deployed
// and, only when it changed, rewrites the NDB file and asks clamd to
// reload it.
func (m *Manager) Reconcile(ctx context.Context) error {
	scenarios, err := m.db.LoadScenarios(ctx)
	if err != nil {
		return fmt.Errorf("sigmgr: load scenarios: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, s := range scenarios {
		sigs, err := rules.ParseAndExtractClamSignatures(s.RuleText)
		if err != nil {
			m.logger.Warn().Err(err).Str("scenario_id", s.ScenarioID).Msg("sigmgr: failed to extract signatures, skipping scenario")
			continue
		}
		for _, sig := range sigs {
			if !seen[sig] {
				seen[sig] = true
				names = append(names, sig)
			}
		}
	}

	current, err := m.cache.Load()
	if err != nil {
		return fmt.Errorf("sigmgr: load sigcache: %w", err)
	}
	if setsEqual(current, names) {
		m.logger.Debug().Int("signature_count", len(names)).Msg("sigmgr: signature set unchanged, skipping redeploy")
		return nil
	}

	if err := writeNDB(m.cfg.NDBPath, names); err != nil {
		return err
	}
	if err := m.cache.Replace(names); err != nil {
		return fmt.Errorf("sigmgr: update sigcache: %w", err)
	}

	if err := pingClamd(ctx, m.cfg.ClamdAddr, m.cfg.ClamdTimeout); err != nil {
		m.logger.Warn().Err(err).Msg("sigmgr: clamd ping failed, skipping reload")
		return nil
	}
	if err := reloadClamd(ctx, m.cfg.ClamdAddr, m.cfg.ClamdTimeout); err != nil {
		return fmt.Errorf("sigmgr: reload clamd: %w", err)
	}
	m.logger.Info().Int("signature_count", len(names)).Msg("sigmgr: deployed updated signature set")
	return nil
}

func setsEqual(current map[string]bool, names []string) bool {
	if len(current) != len(names) {
		return false
	}
	for _, n := range names {
		if !current[n] {
			return false
		}
	}
	return true
}
