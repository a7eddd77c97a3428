// Package director consumes CTX-Director requests, evaluates every
// enabled, version-compatible scenario against the graph, and records
// the matches it finds as work_actions. Its scenario cache is an
// atomic.Pointer snapshot, swapped on reload so evaluators never take
// a lock to read it.
package director

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/metrics"
	"github.com/ternarybob/ctxpipe/internal/queue"
	"github.com/ternarybob/ctxpipe/internal/rules"
)

// Evaluator is the director's request-handling half: one per process,
// bound to one CTX-Director queue and one graphdb.
type Evaluator struct {
	db     *graphdb.DB
	inbox  *queue.Manager
	bus    *broker.Bus
	logger arbor.ILogger
	cfg    Config

	pool *queue.WorkerPool

	snapshot atomic.Pointer[[]graphdb.CompiledScenario]
	lastSeen atomic.Int64
	stopPoll chan struct{}
}

// NewEvaluator binds to CTX-Director, loads the initial scenario
// snapshot, and returns an Evaluator ready for Start.
func NewEvaluator(ctx context.Context, db *graphdb.DB, queues *queue.Registry, bus *broker.Bus, qcfg queue.Config, cfg Config, logger arbor.ILogger) (*Evaluator, error) {
	inbox, err := queues.For(ctxmodel.DirectorQueueName)
	if err != nil {
		return nil, fmt.Errorf("director: bind CTX-Director: %w", err)
	}
	e := &Evaluator{db: db, inbox: inbox, bus: bus, logger: logger, cfg: cfg, stopPoll: make(chan struct{})}
	if err := e.reload(ctx); err != nil {
		return nil, fmt.Errorf("director: initial scenario load: %w", err)
	}
	qcfg.QueueName = ctxmodel.DirectorQueueName
	e.pool = queue.NewWorkerPool(inbox, e.handle, qcfg, logger)
	return e, nil
}

// Start launches the request-consuming WorkerPool, a cross-process
// reload poller, and an in-process broker.Bus subscription for
// same-process reload notifications (e.g. an endpoint and director
// sharing one cmd/ process in tests or a small deployment).
func (e *Evaluator) Start() {
	e.pool.Start()
	go e.pollReload()
	go e.watchBus()
}

func (e *Evaluator) Stop() {
	close(e.stopPoll)
	e.pool.Stop()
}

func (e *Evaluator) pollReload() {
	ticker := time.NewTicker(e.cfg.ReloadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopPoll:
			return
		case <-ticker.C:
			e.checkReload()
		}
	}
}

func (e *Evaluator) watchBus() {
	events, cancel := e.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-e.stopPoll:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Topic == broker.ScreloadTopic {
				e.checkReload()
			}
		}
	}
}

func (e *Evaluator) checkReload() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gen, err := e.db.ScenarioReloadGeneration(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("director: read scenario reload generation")
		return
	}
	if gen == e.lastSeen.Load() {
		return
	}
	if err := e.reload(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("director: reload scenarios")
		return
	}
	e.lastSeen.Store(gen)
	metrics.DirectorReloadGeneration.Set(float64(gen))
}

func (e *Evaluator) reload(ctx context.Context) error {
	scenarios, err := e.db.LoadScenarios(ctx)
	if err != nil {
		return err
	}
	gen, err := e.db.ScenarioReloadGeneration(ctx)
	if err != nil {
		return err
	}
	e.snapshot.Store(&scenarios)
	e.lastSeen.Store(gen)
	metrics.DirectorReloadGeneration.Set(float64(gen))
	return nil
}

func (e *Evaluator) handle(ctx context.Context, msg *queue.Message) error {
	var req ctxmodel.DirectorRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("director: unmarshal director request: %w", err)
	}

	if err := e.evaluate(ctx, req.WorkID); err != nil {
		return fmt.Errorf("director: evaluate work %s: %w", req.WorkID, err)
	}
	metrics.DirectorRequestsProcessed.Inc()
	return nil
}

// evaluate runs every enabled, compiler-compatible scenario against
// workID: local rules per object reachable from the work, global
// rules once against the work's whole tree. A scenario that matches
// (by either clause) fires exactly one WorkAction, recorded in
// work_actions and republished on the broker for live observers.
func (e *Evaluator) evaluate(ctx context.Context, workID string) error {
	snap := e.snapshot.Load()
	if snap == nil {
		return nil
	}

	objectIDs, err := e.db.WorkObjectIDs(ctx, workID)
	if err != nil {
		return fmt.Errorf("list work objects: %w", err)
	}

	byScenario := groupByScenario(*snap)
	for scenarioID, rows := range byScenario {
		matched, err := e.scenarioMatches(ctx, workID, objectIDs, rows)
		if err != nil {
			e.logger.Warn().Err(err).Str("scenario_id", scenarioID).Str("work_id", workID).Msg("director: scenario evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		action := ctxmodel.WorkAction{
			Scenario: scenarioID,
			CTime:    float64(time.Now().Unix()),
			Action:   actionFor(rows),
		}
		if err := e.db.RecordAction(ctx, workID, scenarioID, action); err != nil {
			return fmt.Errorf("record action for scenario %s: %w", scenarioID, err)
		}
		metrics.DirectorScenariosMatched.WithLabelValues(scenarioID).Inc()

		payload, _ := json.Marshal(action)
		e.bus.Publish(broker.Event{
			Topic:   broker.WorkTopic,
			WorkID:  workID,
			Type:    "scenario_matched",
			Payload: payload,
		})
	}
	return nil
}

// scenarioMatches reports whether any row (local or global) belonging
// to one scenario id matches: local rules are evaluated per object
// and short-circuit on the first hit, global rules once against the
// whole work.
func (e *Evaluator) scenarioMatches(ctx context.Context, workID string, objectIDs []string, rows []graphdb.CompiledScenario) (bool, error) {
	for _, row := range rows {
		compatible, err := rules.Compatible(rules.VersionRange{Min: row.CompatMin, Max: row.CompatMax})
		if err != nil {
			return false, fmt.Errorf("scenario %s compatibility range: %w", row.ScenarioID, err)
		}
		if !compatible {
			continue
		}

		switch row.QueryType {
		case "global":
			bound := rules.BindWorkID(rules.Compiled{SQL: row.CompiledSQL, Args: row.CompiledArgs}, workID)
			hit, err := e.db.EvalGlobal(ctx, bound.SQL, bound.Args)
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		default: // "local"
			for _, objectID := range objectIDs {
				hit, err := e.db.EvalLocal(ctx, row.CompiledSQL, row.CompiledArgs, workID, objectID)
				if err != nil {
					return false, err
				}
				if hit {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func groupByScenario(rows []graphdb.CompiledScenario) map[string][]graphdb.CompiledScenario {
	out := make(map[string][]graphdb.CompiledScenario)
	for _, r := range rows {
		out[r.ScenarioID] = append(out[r.ScenarioID], r)
	}
	return out
}

// actionFor renders the action template for a matching scenario. The
// rule language's action clause is a plain string template (no
// nested expressions), so every row for a scenario id carries the
// same Action value; the first non-empty one wins.
func actionFor(rows []graphdb.CompiledScenario) string {
	for _, r := range rows {
		if r.Action != "" {
			return r.Action
		}
	}
	return ""
}
