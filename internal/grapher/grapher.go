// Package grapher is the single consumer of CTX-JobRes and the single
// writer of internal/graphdb: for every JobResultEnvelope it commits a
// depth-first walk of the object/relation tree inside one transaction,
// then asks the director to (re)evaluate scenarios for the work.
package grapher

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/metrics"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

// Writer consumes CTX-JobRes and commits results to the graph.
type Writer struct {
	db     *graphdb.DB
	inbox  *queue.Manager
	queues *queue.Registry
	logger arbor.ILogger
	pool   *queue.WorkerPool
}

func NewWriter(db *graphdb.DB, queues *queue.Registry, cfg queue.Config, logger arbor.ILogger) (*Writer, error) {
	inbox, err := queues.For(ctxmodel.ResultsQueueName)
	if err != nil {
		return nil, fmt.Errorf("grapher: bind CTX-JobRes: %w", err)
	}
	w := &Writer{db: db, inbox: inbox, queues: queues, logger: logger}
	cfg.QueueName = ctxmodel.ResultsQueueName
	w.pool = queue.NewWorkerPool(inbox, w.handle, cfg, logger)
	return w, nil
}

func (w *Writer) Start() { w.pool.Start() }
func (w *Writer) Stop()  { w.pool.Stop() }

func (w *Writer) handle(ctx context.Context, msg *queue.Message) error {
	start := time.Now()
	defer func() { metrics.GrapherCommitSeconds.Observe(time.Since(start).Seconds()) }()

	var env ctxmodel.JobResultEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		metrics.GrapherCommitFailures.Inc()
		return fmt.Errorf("grapher: unmarshal job result envelope: %w", err)
	}

	if err := w.commit(ctx, env); err != nil {
		metrics.GrapherCommitFailures.Inc()
		return fmt.Errorf("grapher: commit work %s: %w", env.WorkID, err)
	}
	metrics.GrapherResultsCommitted.Inc()

	if err := w.notifyDirector(ctx, env.WorkID); err != nil {
		// The graph write already succeeded; a missed director
		// notification only delays scenario evaluation, it does not
		// corrupt anything, so this is logged rather than retried by
		// redelivering the whole commit.
		w.logger.Warn().Err(err).Str("work_id", env.WorkID).Msg("failed to notify director")
	}
	return nil
}

func (w *Writer) commit(ctx context.Context, env ctxmodel.JobResultEnvelope) error {
	tx, err := w.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if err := w.db.UpsertObject(ctx, tx, graphdb.ObjectRow{
		ObjectID:      env.Result.Object.ObjectID,
		ObjectType:    env.Result.Object.ObjectType,
		ObjectSubtype: env.Result.Object.ObjectSubtype,
		Org:           env.Result.Object.Org,
		Size:          env.Result.Object.Size,
		Ctime:         now,
	}); err != nil {
		return err
	}
	if err := w.db.InsertWork(ctx, tx, graphdb.WorkRoot{
		WorkID:          env.WorkID,
		RootObjectID:    env.Result.Object.ObjectID,
		Org:             env.Result.Object.Org,
		CreatedAt:       now,
		Deadline:        now.Add(ctxmodel.MaxWorkTTL),
		RecursionBudget: ctxmodel.MaxWorkDepth,
	}); err != nil {
		return err
	}
	for _, sym := range env.Result.Symbols {
		if err := w.db.AddSymbol(ctx, tx, env.Result.Object.ObjectID, sym); err != nil {
			return err
		}
	}
	// Synthetic root relation (parent_object_id NULL): rule paths that
	// extract from rel.metadata must resolve for the root object too.
	if err := w.db.LinkChild(ctx, tx, env.WorkID, "", env.Result.Object.ObjectID, env.Result.Metadata); err != nil {
		return err
	}

	if err := w.walkChildren(ctx, tx, env.WorkID, env.Result.Object.ObjectID, env.Result.Children); err != nil {
		return err
	}
	if err := w.db.CompleteWork(ctx, tx, env.WorkID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// walkChildren recurses depth-first over the nested ChildResult tree,
// upserting every derived object and its relation to parentID. A
// Failed Child has no derived object, so its reason and symbols are
// recorded on a zero-size placeholder object that its relation points at.
func (w *Writer) walkChildren(ctx context.Context, tx *sql.Tx, workID, parentID string, children []ctxmodel.ChildResult) error {
	now := time.Now()
	for _, c := range children {
		if c.Failed != nil {
			// No derived object: relations.child_object_id is a
			// foreign key, so record a zero-size placeholder object
			// carrying the failure reason and the Failed Child's symbols,
			// then the relation pointing at it with the metadata on the
			// edge.
			placeholderID := failedChildPlaceholderID(parentID, c.Failed.Reason)
			if err := w.db.UpsertObject(ctx, tx, graphdb.ObjectRow{
				ObjectID:   placeholderID,
				ObjectType: "FAILED",
				Ctime:      now,
			}); err != nil {
				return err
			}
			if err := w.db.AddSymbol(ctx, tx, placeholderID, c.Failed.Reason); err != nil {
				return err
			}
			for _, sym := range c.Failed.Symbols {
				if err := w.db.AddSymbol(ctx, tx, placeholderID, sym); err != nil {
					return err
				}
			}
			if err := w.db.LinkChild(ctx, tx, workID, parentID, placeholderID, c.RelationMetadata); err != nil {
				return err
			}
			continue
		}
		if c.Result == nil {
			continue
		}
		if err := w.db.UpsertObject(ctx, tx, graphdb.ObjectRow{
			ObjectID:      c.Result.Object.ObjectID,
			ObjectType:    c.Result.Object.ObjectType,
			ObjectSubtype: c.Result.Object.ObjectSubtype,
			Org:           c.Result.Object.Org,
			Size:          c.Result.Object.Size,
			Ctime:         now,
		}); err != nil {
			return err
		}
		for _, sym := range c.Result.Symbols {
			if err := w.db.AddSymbol(ctx, tx, c.Result.Object.ObjectID, sym); err != nil {
				return err
			}
		}
		if err := w.db.LinkChild(ctx, tx, workID, parentID, c.Result.Object.ObjectID, c.RelationMetadata); err != nil {
			return err
		}
		if err := w.walkChildren(ctx, tx, workID, c.Result.Object.ObjectID, c.Result.Children); err != nil {
			return err
		}
	}
	return nil
}

// notifyDirector enqueues a request for the director to (re)evaluate
// scenarios against the just-committed work. A commit always happens
// before this is called, so a lost or delayed notification only
// delays scenario evaluation.
func (w *Writer) notifyDirector(ctx context.Context, workID string) error {
	directorQueue, err := w.queues.For(ctxmodel.DirectorQueueName)
	if err != nil {
		return fmt.Errorf("bind CTX-Director: %w", err)
	}
	payload, err := json.Marshal(ctxmodel.DirectorRequest{WorkID: workID})
	if err != nil {
		return fmt.Errorf("marshal director request: %w", err)
	}
	return directorQueue.Enqueue(ctx, queue.Message{CorrelationID: workID, Payload: payload})
}

// failedChildPlaceholderID gives a Failed Child relation a stable id
// derived from its parent and failure reason. No analyzed object has
// this id; relations.child_object_id has a foreign key, so a
// placeholder object row is inserted under it.
func failedChildPlaceholderID(parentID, reason string) string {
	return "failed:" + parentID + ":" + reason
}
