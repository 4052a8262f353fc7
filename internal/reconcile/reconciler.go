// Package reconcile replays sends whose projection writes were left incomplete.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/robfig/cron/v3"
)

// Replayer rewrites every row of an accepted message
type Replayer interface {
	ReplayFanout(ctx context.Context, msg *entity.Message) error
}

const defaultMaxAttempts = 10

// Reconciler periodically replays pending fan-outs and clears the ones that succeed.
// Each pass reads one batch per shard and resumes after the last entry it read, so entries
// that keep failing never hide the ones behind them. An entry that fails maxAttempts times is
// moved to the dead-letter table.
type Reconciler struct {
	pending     *repository.PendingRepo
	replayer    Replayer
	batchSize   int
	grace       time.Duration
	maxAttempts int
	now         func() time.Time

	mu      sync.Mutex
	cursors map[int]uuid.UUID

	cron *cron.Cron
}

// NewReconciler creates a new Reconciler. Entries younger than grace are left alone, since
// the send that recorded them may still be retried by its client.
func NewReconciler(pending *repository.PendingRepo, replayer Replayer, batchSize int, grace time.Duration) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		pending:     pending,
		replayer:    replayer,
		batchSize:   batchSize,
		grace:       grace,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		cursors:     make(map[int]uuid.UUID),
	}
}

// SetMaxAttempts bounds how many failed replays an entry gets before it is dead-lettered
func (r *Reconciler) SetMaxAttempts(n int) {
	if n > 0 {
		r.maxAttempts = n
	}
}

// Start runs RunOnce on the cron spec. A run still in progress makes the next one skip.
func (r *Reconciler) Start(spec string) error {
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := r.cron.AddFunc(spec, func() {
		r.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	log.Info("reconciler started: spec=%s, shards=%d, batch_size=%d", spec, r.pending.Shards(), r.batchSize)
	return nil
}

// Stop stops scheduling and waits for a running pass, or for ctx
func (r *Reconciler) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce replays one batch of every shard and returns how many entries were replayed and failed.
// Dead-lettered entries count as failed.
func (r *Reconciler) RunOnce(ctx context.Context) (replayed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.grace)
	for shard := 0; shard < r.pending.Shards(); shard++ {
		entries, err := r.pending.ListShard(ctx, shard, r.cursors[shard], r.batchSize)
		if err != nil {
			log.CtxWarn(ctx, "list pending fanouts failed: shard=%d, error=%v", shard, err)
			continue
		}
		if len(entries) < r.batchSize {
			// reached the end of the shard, start over from the head next time
			delete(r.cursors, shard)
		} else {
			r.cursors[shard] = entries[len(entries)-1].Message.MessageId
		}

		for _, e := range entries {
			if e.RecordedAt.After(cutoff) {
				continue
			}
			if err := r.replayer.ReplayFanout(ctx, e.Message); err != nil {
				failed++
				r.recordFailure(ctx, e, err)
				continue
			}
			if err := r.pending.Delete(ctx, shard, e.Message.MessageId); err != nil {
				log.CtxWarn(ctx, "delete pending fanout failed: message_id=%s, error=%v", e.Message.MessageId, err)
			}
			replayed++
		}
	}

	if replayed > 0 || failed > 0 {
		log.CtxInfo(ctx, "reconcile pass done: replayed=%d, failed=%d", replayed, failed)
	}
	return replayed, failed
}

func (r *Reconciler) recordFailure(ctx context.Context, e *entity.PendingFanout, cause error) {
	e.Attempts++
	e.LastError = cause.Error()

	if e.Attempts >= r.maxAttempts {
		log.CtxWarn(ctx, "pending fanout dead-lettered: message_id=%s, attempts=%d, failed_steps=%s, error=%v",
			e.Message.MessageId, e.Attempts, e.FailedSteps, cause)
		if err := r.pending.DeadLetter(ctx, e); err != nil {
			log.CtxError(ctx, "dead-letter pending fanout failed: message_id=%s, error=%v", e.Message.MessageId, err)
		}
		return
	}

	log.CtxWarn(ctx, "replay fanout failed: message_id=%s, attempts=%d, failed_steps=%s, error=%v",
		e.Message.MessageId, e.Attempts, e.FailedSteps, cause)
	if err := r.pending.MarkFailed(ctx, e); err != nil {
		log.CtxWarn(ctx, "record replay failure failed: message_id=%s, error=%v", e.Message.MessageId, err)
	}
}
