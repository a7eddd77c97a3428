// Package frontend implements the per-object-type worker: consume one
// CTX-JobReq-<TYPE> queue, invoke an analyzer backend over TCP,
// recurse into the backend's reported children, and aggregate the
// whole subtree into one result before it is ever handed upstream —
// the Go realization of spec.md §4.2's frontend state machine
// (RECEIVED -> VALIDATING -> REJECTED | PROCESSING -> RESCHEDULED |
// PUBLISHING_CHILDREN -> WAITING_CHILDREN -> AGGREGATING).
package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/common"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/metrics"
	"github.com/ternarybob/ctxpipe/internal/objectstore"
	"github.com/ternarybob/ctxpipe/internal/queue"
	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

// Manager owns the lifecycle of jobs for one configured object type. A
// process may host several Managers, one per type, as long as they all
// share the same WaitRegistry and queue.Registry — that sharing is
// what lets a child job's completion be handed straight back to its
// waiting parent in memory instead of over a queue (see DESIGN.md for
// why this repo runs frontend types in one process).
type Manager struct {
	cfg      Config
	inbox    *queue.Manager
	queues   *queue.Registry
	registry *WaitRegistry
	logger   arbor.ILogger
	pool     *queue.WorkerPool
}

// NewManager binds a Manager to its CTX-JobReq-<TYPE> queue, obtained
// from the shared queue.Registry so every Manager in the process
// draws from the same underlying SQLite file.
func NewManager(cfg Config, queues *queue.Registry, registry *WaitRegistry, logger arbor.ILogger) (*Manager, error) {
	inbox, err := queues.For(ctxmodel.QueueForType(cfg.ObjectType))
	if err != nil {
		return nil, fmt.Errorf("frontend: bind inbox queue for %s: %w", cfg.ObjectType, err)
	}
	m := &Manager{cfg: cfg, inbox: inbox, queues: queues, registry: registry, logger: logger}

	qcfg := queue.Config{
		PollInterval:      cfg.PollInterval,
		Concurrency:       cfg.Concurrency,
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        3,
		QueueName:         inbox.Name(),
	}
	m.pool = queue.NewWorkerPool(inbox, m.handle, qcfg, logger)
	return m, nil
}

func (m *Manager) Start() { m.pool.Start() }
func (m *Manager) Stop()  { m.pool.Stop() }

func (m *Manager) handle(ctx context.Context, msg *queue.Message) error {
	var qj ctxmodel.QueuedJob
	if err := json.Unmarshal(msg.Payload, &qj); err != nil {
		return fmt.Errorf("frontend: unmarshal queued job: %w", err)
	}
	job := qj.Job(msg.CorrelationID)
	metrics.FrontendJobsReceived.WithLabelValues(m.cfg.ObjectType).Inc()

	now := time.Now()
	if job.Expired(now) {
		metrics.FrontendJobsTimedOut.WithLabelValues(m.cfg.ObjectType).Inc()
		return m.finishTerminal(job, qj, ctxmodel.SymbolJobTimedOut)
	}
	if qj.Depth > 0 && job.RemainingRecursion() == 0 {
		return m.finishTerminal(job, qj, ctxmodel.SymbolLimitsReached)
	}

	traceID := uuid.New().String()
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.BackendTimeout)
	reply, err := wireproto.Call(callCtx, m.cfg.BackendAddr, wireproto.BackendRequest{
		Object:           qj.Request.Object,
		Symbols:          qj.Request.Symbols,
		RelationMetadata: qj.Request.RelationMetadata,
		MaxRecursion:     qj.Request.MaxRecursion,
		TTLDeadlineUnix:  qj.Request.TTLDeadlineUnix,
		ObjectPath:       objectstore.Path(m.cfg.ObjectsPath, qj.Request.Object.ObjectID),
	})
	cancel()
	metrics.FrontendObjectProcessingSeconds.WithLabelValues(m.cfg.ObjectType).Observe(time.Since(start).Seconds())

	if err != nil {
		m.logger.Warn().Err(err).Str("trace_id", traceID).Str("object_id", job.ObjectID).Str("backend", m.cfg.BackendAddr).Msg("backend call failed")
		return m.reschedule(ctx, job, qj, err)
	}
	m.logger.Debug().Str("trace_id", traceID).Str("object_id", job.ObjectID).Int("children", len(reply.Children)).Msg("backend call completed")

	children, waitDeadline := m.publishChildren(ctx, job, qj, reply)
	m.waitForChildren(ctx, job, children, waitDeadline)

	meta := ctxmodel.Metadata(reply.ObjectMetadata)
	result := ctxmodel.JobResult{
		Object:   qj.Request.Object,
		Symbols:  reply.Symbols,
		Metadata: meta,
		Children: resultsOf(children),
	}
	metrics.FrontendJobsCompleted.WithLabelValues(m.cfg.ObjectType).Inc()
	return m.finishSuccess(job, qj, result)
}

// reschedule implements the RESCHEDULED transition: transient backend
// errors bump the retry count and re-enter the same queue, rather than
// blocking this worker with a sleep-retry loop; exhausting max_retries
// is a terminal job_max_retries result instead.
func (m *Manager) reschedule(ctx context.Context, job ctxmodel.Job, qj ctxmodel.QueuedJob, cause error) error {
	m.logger.Warn().Err(cause).Str("object_id", job.ObjectID).Int("retries", qj.Retries).Msg("backend call failed, rescheduling")

	if qj.Retries >= m.cfg.MaxRetries {
		metrics.FrontendJobsMaxRetries.WithLabelValues(m.cfg.ObjectType).Inc()
		return m.finishTerminal(job, qj, ctxmodel.SymbolJobMaxRetries)
	}

	metrics.FrontendJobsRescheduled.WithLabelValues(m.cfg.ObjectType).Inc()
	qj.Retries++
	payload, err := json.Marshal(qj)
	if err != nil {
		return fmt.Errorf("frontend: marshal rescheduled job: %w", err)
	}
	if err := m.inbox.Enqueue(ctx, queue.Message{ObjectType: m.cfg.ObjectType, CorrelationID: job.CorrelationID, Payload: payload}); err != nil {
		// Leave the original message undeleted - it gets redelivered
		// and we try rescheduling again next time.
		return fmt.Errorf("frontend: requeue after transient error: %w", err)
	}
	return nil
}

// pendingChild tracks one backend-reported child that was published
// onward, so waitForChildren can fill children[index] in backend
// order regardless of completion order.
type pendingChild struct {
	index  int
	corrID string
	ch     <-chan ctxmodel.ChildResult
}

// publishChildren implements PUBLISHING_CHILDREN: finalize each
// backend-reported child into the object store, detect its type
// (unless forced), and enqueue it on CTX-JobReq-<childType> — after
// registering a wait channel for it first, so a child racing ahead of
// us can never resolve before we are listening.
func (m *Manager) publishChildren(ctx context.Context, job ctxmodel.Job, qj ctxmodel.QueuedJob, reply wireproto.BackendReply) ([]childSlot, time.Time) {
	slots := make([]childSlot, len(reply.Children))
	deadline := time.Unix(0, int64(job.TTLDeadlineUnix*float64(time.Second)))

	childDepth := job.Depth + 1
	childBudget := ctxmodel.Job{Depth: childDepth, MaxRecursion: job.MaxRecursion, TTLDeadlineUnix: job.TTLDeadlineUnix}
	over := childBudget.RemainingRecursion() == 0
	expired := childBudget.Expired(time.Now())

	for i, bc := range reply.Children {
		relMeta := ctxmodel.BubbleGlobal(job.ParentRelation, ctxmodel.Metadata(asMap(bc.RelationMetadata)))

		if over || expired {
			reason := ctxmodel.SymbolLimitsReached
			if expired {
				reason = ctxmodel.SymbolJobTimedOut
			}
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta,
				Symbols:          bc.Symbols,
				Failed:           &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: reason},
			}}
			continue
		}

		if bc.Path == "" {
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta,
				Symbols:          bc.Symbols,
				Failed:           &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: bc.FailReason},
			}}
			continue
		}

		objectID, size, err := objectstore.Finalize(bc.Path, m.cfg.ObjectsPath)
		if err != nil {
			m.logger.Error().Err(err).Str("path", bc.Path).Msg("failed to finalize child object")
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta,
				Symbols:          bc.Symbols,
				Failed:           &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: "store: " + err.Error()},
			}}
			continue
		}

		childType := bc.ForcedType
		if childType == "" {
			detected, derr := DetectType(objectstore.Path(m.cfg.ObjectsPath, objectID))
			if derr != nil {
				detected = "UNKNOWN"
			}
			childType = detected
		}

		childReq := ctxmodel.JobRequest{
			Object: ctxmodel.Info{
				Org:            qj.Request.Object.Org,
				ObjectID:       objectID,
				ObjectType:     childType,
				RecursionLevel: job.Depth + 1,
				Size:           size,
				Hashes:         map[string]string{"sha256": objectID},
				CreateTimeUnix: float64(time.Now().Unix()),
			},
			Symbols:          bc.Symbols,
			RelationMetadata: relMeta,
			MaxRecursion:     job.MaxRecursion,
			TTLDeadlineUnix:  job.TTLDeadlineUnix,
		}
		childQJ := ctxmodel.QueuedJob{WorkID: job.WorkID, Depth: job.Depth + 1, Request: childReq}
		corrID := common.NewCorrelationID()
		ch := m.registry.Register(corrID)

		mgr, err := m.queues.For(ctxmodel.QueueForType(childType))
		if err != nil {
			m.registry.Abandon(corrID)
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta, Symbols: bc.Symbols,
				Failed: &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: "bind queue: " + err.Error()},
			}}
			continue
		}
		payload, err := json.Marshal(childQJ)
		if err != nil {
			m.registry.Abandon(corrID)
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta, Symbols: bc.Symbols,
				Failed: &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: "marshal: " + err.Error()},
			}}
			continue
		}
		if err := mgr.Enqueue(ctx, queue.Message{ObjectType: childType, CorrelationID: corrID, Payload: payload}); err != nil {
			m.registry.Abandon(corrID)
			slots[i] = childSlot{resolved: true, result: ctxmodel.ChildResult{
				RelationMetadata: relMeta, Symbols: bc.Symbols,
				Failed: &ctxmodel.FailedChild{Symbols: bc.Symbols, RelationMetadata: relMeta, Reason: "enqueue: " + err.Error()},
			}}
			continue
		}
		slots[i] = childSlot{pending: &pendingChild{index: i, corrID: corrID, ch: ch}}
	}
	return slots, deadline
}

type childSlot struct {
	resolved bool
	result   ctxmodel.ChildResult
	pending  *pendingChild
}

// waitForChildren implements WAITING_CHILDREN: block on every pending
// child's result channel up to the work's TTL deadline. Any child
// still outstanding once the deadline passes is recorded as a timed
// out Failed Child and its registry slot is abandoned so it cannot
// leak a goroutine-held channel forever.
func (m *Manager) waitForChildren(ctx context.Context, job ctxmodel.Job, slots []childSlot, deadline time.Time) {
	var pending []*pendingChild
	for i := range slots {
		if slots[i].pending != nil {
			pending = append(pending, slots[i].pending)
		}
	}
	if len(pending) == 0 {
		return
	}

	metrics.FrontendJobsWaiting.WithLabelValues(m.cfg.ObjectType).Add(float64(len(pending)))
	defer metrics.FrontendJobsWaiting.WithLabelValues(m.cfg.ObjectType).Sub(float64(len(pending)))

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for _, p := range pending {
		select {
		case res := <-p.ch:
			slots[p.index].result = res
		case <-waitCtx.Done():
			m.registry.Abandon(p.corrID)
			slots[p.index].result = ctxmodel.ChildResult{
				Failed: &ctxmodel.FailedChild{Reason: ctxmodel.SymbolJobTimedOut},
			}
			metrics.FrontendJobsTimedOut.WithLabelValues(m.cfg.ObjectType).Inc()
		}
	}
}

func resultsOf(slots []childSlot) []ctxmodel.ChildResult {
	out := make([]ctxmodel.ChildResult, len(slots))
	for i, s := range slots {
		out[i] = s.result
	}
	return out
}

// finishSuccess implements AGGREGATING: if this job was published by
// another Manager awaiting it, hand the completed subtree straight to
// that waiter; otherwise this was a work root and the consolidated
// result is published to CTX-JobRes for the grapher to commit.
func (m *Manager) finishSuccess(job ctxmodel.Job, qj ctxmodel.QueuedJob, result ctxmodel.JobResult) error {
	cr := ctxmodel.ChildResult{RelationMetadata: job.ParentRelation, Symbols: qj.Request.Symbols, Result: &result}
	if m.registry.Resolve(job.CorrelationID, cr) {
		return nil
	}
	return m.publishWorkResult(job.WorkID, result)
}

// finishTerminal implements REJECTED and the job_timed_out/job_max_retries
// terminal paths: no backend call is made (or its result is discarded),
// and the job is represented as a failure at whichever level it sits.
func (m *Manager) finishTerminal(job ctxmodel.Job, qj ctxmodel.QueuedJob, reason string) error {
	failed := &ctxmodel.FailedChild{Symbols: qj.Request.Symbols, RelationMetadata: job.ParentRelation, Reason: reason}
	cr := ctxmodel.ChildResult{RelationMetadata: job.ParentRelation, Symbols: qj.Request.Symbols, Failed: failed}
	if m.registry.Resolve(job.CorrelationID, cr) {
		return nil
	}
	return m.publishWorkResult(job.WorkID, ctxmodel.JobResult{
		Object:  qj.Request.Object,
		Symbols: []string{reason},
	})
}

func (m *Manager) publishWorkResult(workID string, result ctxmodel.JobResult) error {
	resultQueue, err := m.queues.For(ctxmodel.ResultsQueueName)
	if err != nil {
		return fmt.Errorf("frontend: bind results queue: %w", err)
	}
	envelope := ctxmodel.JobResultEnvelope{WorkID: workID, Result: result}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("frontend: marshal job result: %w", err)
	}
	if err := resultQueue.Enqueue(context.Background(), queue.Message{CorrelationID: workID, Payload: payload}); err != nil {
		return fmt.Errorf("frontend: publish job result: %w", err)
	}
	return nil
}

func asMap(v interface{}) map[string]any {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
