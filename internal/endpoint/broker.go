package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/common"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

// JobAction asks the publisher to enqueue a new root job and report
// back the work id it generated.
type JobAction struct {
	Object           ctxmodel.Info
	MaxRecursion     uint32
	TTLDeadlineUnix  float64
	RelationMetadata ctxmodel.Metadata
	ReplyTo          chan<- JobReply
}

// JobReply is the publisher's answer to a JobAction.
type JobReply struct {
	WorkID string
	Err    error
}

// ApplyScenariosAction asks the director to re-evaluate a set of
// already-completed works against the current scenario set.
type ApplyScenariosAction struct {
	WorkIDs []string
	ReplyTo chan<- error
}

// ReloadAction bumps the cross-process scenario generation counter
// and fans the change out over the in-process broker.
type ReloadAction struct {
	ReplyTo chan<- error
}

// BrokerAction is the tagged union the HTTP handlers feed to the
// single publisher goroutine: AMQP channels (here, one goqite
// queue.Manager per queue name) must never be shared across
// goroutines, so exactly one task owns them and every handler talks
// to it over this channel instead of dialing the queue itself.
type BrokerAction struct {
	Job            *JobAction
	ApplyScenarios *ApplyScenariosAction
	Reload         *ReloadAction
}

// Publisher is the endpoint's single queue-writing task. It owns the
// queue.Registry for the lifetime of the process: Go has no weak
// channel handles to mirror the original's per-request weak sender,
// so the actions channel lives as long as the process and is never
// closed. Stop closes a separate done channel, which makes Submit fail
// and Run return; nothing happens when the last HTTP request's sender
// drops (see DESIGN.md).
type Publisher struct {
	actions chan BrokerAction
	queues  *queue.Registry
	db      *graphdb.DB
	bus     *broker.Bus
	logger  arbor.ILogger

	wg   sync.WaitGroup
	done chan struct{}
}

func NewPublisher(queues *queue.Registry, db *graphdb.DB, bus *broker.Bus, bufferSize int, logger arbor.ILogger) *Publisher {
	return &Publisher{
		actions: make(chan BrokerAction, bufferSize),
		queues:  queues,
		db:      db,
		bus:     bus,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Submit hands one action to the publisher, blocking only long enough
// to enqueue it (or until ctx is cancelled) — never until it is
// processed, so a slow queue write never stalls an HTTP handler
// beyond the buffer's capacity.
func (p *Publisher) Submit(ctx context.Context, action BrokerAction) error {
	select {
	case p.actions <- action:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return fmt.Errorf("endpoint: publisher is shutting down")
	}
}

// Run processes actions until Stop is called. It must run in exactly
// one goroutine for the lifetime of the process.
func (p *Publisher) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case action := <-p.actions:
			p.dispatch(ctx, action)
		}
	}
}

func (p *Publisher) Stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *Publisher) dispatch(ctx context.Context, action BrokerAction) {
	switch {
	case action.Job != nil:
		p.handleJob(ctx, action.Job)
	case action.ApplyScenarios != nil:
		p.handleApplyScenarios(ctx, action.ApplyScenarios)
	case action.Reload != nil:
		p.handleReload(ctx, action.Reload)
	}
}

func (p *Publisher) handleJob(ctx context.Context, job *JobAction) {
	workID := common.NewWorkID()
	corrID := common.NewCorrelationID()

	qj := ctxmodel.QueuedJob{
		WorkID: workID,
		Depth:  0,
		Request: ctxmodel.JobRequest{
			Object:           job.Object,
			RelationMetadata: job.RelationMetadata,
			MaxRecursion:     job.MaxRecursion,
			TTLDeadlineUnix:  job.TTLDeadlineUnix,
		},
	}
	payload, err := json.Marshal(qj)
	if err != nil {
		p.reply(job.ReplyTo, JobReply{Err: fmt.Errorf("marshal job: %w", err)})
		return
	}

	mgr, err := p.queues.For(ctxmodel.QueueForType(job.Object.ObjectType))
	if err != nil {
		p.reply(job.ReplyTo, JobReply{Err: fmt.Errorf("bind queue for type %s: %w", job.Object.ObjectType, err)})
		return
	}
	if err := mgr.Enqueue(ctx, queue.Message{ObjectType: job.Object.ObjectType, CorrelationID: corrID, Payload: payload}); err != nil {
		p.reply(job.ReplyTo, JobReply{Err: fmt.Errorf("publish root job: %w", err)})
		return
	}
	p.reply(job.ReplyTo, JobReply{WorkID: workID})
}

func (p *Publisher) handleApplyScenarios(ctx context.Context, action *ApplyScenariosAction) {
	mgr, err := p.queues.For(ctxmodel.DirectorQueueName)
	if err != nil {
		p.replyErr(action.ReplyTo, fmt.Errorf("bind CTX-Director: %w", err))
		return
	}
	for _, workID := range action.WorkIDs {
		payload, err := json.Marshal(ctxmodel.DirectorRequest{WorkID: workID})
		if err != nil {
			p.replyErr(action.ReplyTo, fmt.Errorf("marshal director request: %w", err))
			return
		}
		if err := mgr.Enqueue(ctx, queue.Message{CorrelationID: workID, Payload: payload}); err != nil {
			p.replyErr(action.ReplyTo, fmt.Errorf("publish director request for %s: %w", workID, err))
			return
		}
	}
	p.replyErr(action.ReplyTo, nil)
}

func (p *Publisher) handleReload(ctx context.Context, action *ReloadAction) {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		p.replyErr(action.ReplyTo, fmt.Errorf("begin reload tx: %w", err))
		return
	}
	defer tx.Rollback()

	if err := p.db.BumpScenarioReload(ctx, tx); err != nil {
		p.replyErr(action.ReplyTo, err)
		return
	}
	if err := tx.Commit(); err != nil {
		p.replyErr(action.ReplyTo, fmt.Errorf("commit reload bump: %w", err))
		return
	}

	p.bus.Publish(broker.Event{
		Topic:     broker.ScreloadTopic,
		Type:      "scenarios.reload",
		Timestamp: time.Now().Unix(),
	})
	p.replyErr(action.ReplyTo, nil)
}

func (p *Publisher) reply(ch chan<- JobReply, r JobReply) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func (p *Publisher) replyErr(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
