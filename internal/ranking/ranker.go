package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/store"
)

// RankOptions selects which postings a run scores.
type RankOptions struct {
	Limit int
	// OnlyUnranked skips postings already ranked under the current config.
	OnlyUnranked bool
	DryRun       bool
}

// Ranker scores postings with one configuration.
type Ranker struct {
	store       store.Store
	cfg         *Config
	scorers     map[model.Feature]Scorer
	hash        string
	concurrency int
	now         func() time.Time
}

// NewRanker creates a Ranker. loc may be nil.
func NewRanker(st store.Store, cfg *Config, loc Locator, concurrency int) *Ranker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Ranker{
		store:       st,
		cfg:         cfg,
		scorers:     Scorers(loc),
		hash:        cfg.Hash(),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ProfileHash returns the hash stored with every ranking of this Ranker.
func (r *Ranker) ProfileHash() string {
	return r.hash
}

// Score computes the ranking of one posting.
func (r *Ranker) Score(p *model.RankablePosting, at time.Time) model.RankedPosting {
	sub := make(map[model.Feature]float64, len(r.cfg.Features))
	for _, f := range r.cfg.Features {
		if fn, ok := r.scorers[f]; ok {
			sub[f] = clamp01(fn(p, &r.cfg.Profile))
		}
	}
	score, explain := Aggregate(sub, r.cfg.Weights, r.cfg.Features)
	return model.RankedPosting{
		Key:             p.Key,
		Score:           score,
		Explain:         explain,
		ProfileHash:     r.hash,
		RankedAt:        at,
		PostingRevision: p.Revision,
	}
}

// RankAll scores the selected postings in parallel and saves the results
// unless DryRun is set. The rankings are returned in store order.
func (r *Ranker) RankAll(ctx context.Context, opts RankOptions) (*model.RunSummary, []model.RankedPosting, error) {
	summary := model.NewRunSummary(model.OpRank, r.now())
	summary.DryRun = opts.DryRun

	ranked, err := r.rankAll(ctx, opts, summary)
	summary.Finish(r.now(), err)

	zap.L().Info("rank run complete",
		zap.String("run_id", summary.RunID),
		zap.String("profile_hash", r.hash),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("ranked", summary.Ranked),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, ranked, err
}

func (r *Ranker) rankAll(ctx context.Context, opts RankOptions, summary *model.RunSummary) ([]model.RankedPosting, error) {
	postings, err := r.store.ListRankable(ctx, store.RankFilter{
		Limit:        opts.Limit,
		OnlyUnranked: opts.OnlyUnranked,
		ProfileHash:  r.hash,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list rankable")
	}
	summary.Received = len(postings)

	at := r.now().UTC()
	ranked := make([]model.RankedPosting, len(postings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range postings {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranked[i] = r.Score(&postings[i], at)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ranking: score postings")
	}

	if opts.DryRun {
		summary.Ranked = len(ranked)
		return ranked, nil
	}

	n, err := r.store.SaveRankings(ctx, ranked)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: save rankings")
	}
	summary.Ranked = int(n)
	return ranked, nil
}

// Top returns the n best rankings, highest score first and ties by key. n <= 0
// returns all of them.
func Top(ranked []model.RankedPosting, n int) []model.RankedPosting {
	out := make([]model.RankedPosting, len(ranked))
	copy(out, ranked)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
