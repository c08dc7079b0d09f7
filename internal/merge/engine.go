// Package merge folds batches of raw postings into the canonical store.
package merge

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/store"
)

// Options configures an Engine.
type Options struct {
	// DryRun resolves and folds the batch without writing.
	DryRun bool
}

// Engine resolves raw postings and upserts them by dedup key.
type Engine struct {
	store    store.Store
	opts     Options
	verified atomic.Bool
	now      func() time.Time
}

// NewEngine creates a merge engine over st.
func NewEngine(st store.Store, opts Options) *Engine {
	return &Engine{store: st, opts: opts, now: time.Now}
}

type resolved struct {
	index      int
	posting    *model.Posting
	observedAt time.Time
}

// MergeBatch resolves every observation, rejects invalid ones individually
// and writes the rest. Observations of the same key are applied in
// ObservedAt order. A store error aborts the batch; the summary still
// reports what was written before it.
func (e *Engine) MergeBatch(ctx context.Context, batch []model.Observation) (*model.RunSummary, error) {
	summary := model.NewRunSummary(model.OpMerge, e.now())
	summary.DryRun = e.opts.DryRun
	summary.Received = len(batch)

	err := e.merge(ctx, batch, summary)
	summary.Finish(e.now(), err)

	zap.L().Info("merge batch complete",
		zap.String("run_id", summary.RunID),
		zap.Bool("dry_run", summary.DryRun),
		zap.Int("received", summary.Received),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("folded", summary.Folded),
		zap.Int("rejected", summary.Rejected),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, err
}

func (e *Engine) merge(ctx context.Context, batch []model.Observation, summary *model.RunSummary) error {
	accepted := e.resolve(batch, summary)
	if len(accepted) == 0 {
		return nil
	}

	if e.opts.DryRun {
		return e.dryRun(ctx, accepted, summary)
	}

	if !e.verified.Load() {
		if err := e.store.VerifyAtomicUpsert(ctx); err != nil {
			return eris.Wrap(err, "merge: verify atomic upsert")
		}
		e.verified.Store(true)
	}

	seen := make(map[string]bool, len(accepted))
	for _, r := range accepted {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "merge: batch cancelled")
		}
		key := r.posting.Key
		if seen[key] {
			summary.Folded++
		}
		seen[key] = true

		inserted, err := e.store.UpsertPosting(ctx, key, r.posting.Ingest, r.observedAt)
		if err != nil {
			return eris.Wrapf(err, "merge: record %d", r.index)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}
	return nil
}

// resolve validates the batch and returns accepted records sorted by
// ObservedAt, stable on batch position.
func (e *Engine) resolve(batch []model.Observation, summary *model.RunSummary) []resolved {
	accepted := make([]resolved, 0, len(batch))
	for i, obs := range batch {
		raw := obs.Raw
		key := identity.ResolveKey(raw.Company, raw.Title, raw.Location)
		if identity.CollisionRisk(raw.Company, raw.Title, raw.Location) {
			zap.L().Warn("merge: key built from mostly empty identity fields",
				zap.String("diagnostic", "IdentityCollisionRisk"),
				zap.Int("index", i),
				zap.String("dedup_key", key),
			)
		}

		p, err := identity.Resolve(raw)
		if err != nil {
			rej := model.Rejection{Index: i, Key: key, Reason: err.Error()}
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				rej.Field = ve.Field
				rej.Reason = ve.Reason
			}
			summary.Reject(rej)
			zap.L().Warn("merge: record rejected",
				zap.Int("index", i),
				zap.String("field", rej.Field),
				zap.String("reason", rej.Reason),
			)
			continue
		}

		observedAt := obs.ObservedAt
		if observedAt.IsZero() {
			observedAt = e.now()
		}
		accepted = append(accepted, resolved{index: i, posting: p, observedAt: observedAt.UTC()})
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].observedAt.Before(accepted[j].observedAt)
	})
	return accepted
}

// dryRun classifies each key against the store without writing.
func (e *Engine) dryRun(ctx context.Context, accepted []resolved, summary *model.RunSummary) error {
	seen := make(map[string]bool, len(accepted))
	for _, r := range accepted {
		key := r.posting.Key
		if seen[key] {
			summary.Folded++
			summary.Updated++
			continue
		}
		seen[key] = true

		existing, err := e.store.GetPosting(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "merge: dry run lookup %s", key)
		}
		if existing == nil {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}
	return nil
}
