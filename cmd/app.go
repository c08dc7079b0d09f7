package main

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/config"
	"github.com/sells-group/jobs-etl/internal/enrich"
	"github.com/sells-group/jobs-etl/internal/fetcher"
	"github.com/sells-group/jobs-etl/internal/match"
	"github.com/sells-group/jobs-etl/internal/merge"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/ranking"
	"github.com/sells-group/jobs-etl/internal/resilience"
	"github.com/sells-group/jobs-etl/internal/store"
	"github.com/sells-group/jobs-etl/pkg/companysearch"
)

// app wires the configured store and collaborators for one command or server.
type app struct {
	cfg     *config.Config
	store   store.Store
	fetcher *fetcher.HTTPFetcher
	now     func() time.Time

	skillsOnce sync.Once
	skills     *enrich.SkillsExtractor
	skillsErr  error

	// searcher overrides the company search client built from config.
	searcher enrich.Searcher
}

// initStore opens the configured store backend.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{MaxConns: c.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// newApp validates c for scope, opens the store and applies migrations.
func newApp(ctx context.Context, c *config.Config, scope string) (*app, error) {
	if err := c.Validate(scope); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return newAppWithStore(c, st), nil
}

func newAppWithStore(c *config.Config, st store.Store) *app {
	return &app{
		cfg:   c,
		store: st,
		fetcher: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  c.Fetch.UserAgent,
			Timeout:    time.Duration(c.Fetch.TimeoutSecs) * time.Second,
			RatePerSec: c.Fetch.RatePerSec,
		}),
		now: time.Now,
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

// mergeSource reads a batch from src ("-", a path or a URL) and merges it.
func (a *app) mergeSource(ctx context.Context, src, format string, dryRun bool) (*model.RunSummary, error) {
	if format == "" {
		format = a.cfg.Merge.Format
	}
	f, err := fetcher.ParseFormat(format, src)
	if err != nil {
		return nil, err
	}
	rc, err := fetcher.Open(ctx, src, a.fetcher)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return a.mergeReader(ctx, rc, f, dryRun)
}

func (a *app) mergeReader(ctx context.Context, r io.Reader, format fetcher.Format, dryRun bool) (*model.RunSummary, error) {
	batch, err := fetcher.ReadPostings(ctx, r, format, a.now())
	if err != nil {
		return nil, err
	}
	engine := merge.NewEngine(a.store, merge.Options{DryRun: dryRun})
	summary, err := engine.MergeBatch(ctx, batch)
	a.record(ctx, summary)
	return summary, err
}

func (a *app) skillsExtractor() (*enrich.SkillsExtractor, error) {
	a.skillsOnce.Do(func() {
		dict, err := enrich.LoadSkillsDictionary(a.cfg.Enrich.SkillsDictionary)
		if err != nil {
			a.skillsErr = err
			return
		}
		a.skills = enrich.NewSkillsExtractor(dict)
	})
	return a.skills, a.skillsErr
}

// companySearcher builds the search client. Without an API key the company
// pass only links postings to base company records.
func (a *app) companySearcher() (enrich.Searcher, error) {
	if a.searcher != nil {
		return a.searcher, nil
	}
	cs := a.cfg.CompanySearch
	if cs.APIKey == "" {
		zap.L().Warn("company_search.api_key not set, company matching disabled")
		return nil, nil
	}
	client, err := companysearch.NewClient(cs.APIKey,
		companysearch.WithBaseURL(cs.BaseURL),
		companysearch.WithRateLimit(cs.RatePerSec),
		companysearch.WithHTTPClient(&http.Client{Timeout: time.Duration(cs.TimeoutSecs) * time.Second}),
		companysearch.WithRetry(resilience.FromRetryConfig(cs.MaxAttempts, cs.InitialBackoffMs, cs.MaxBackoffMs)),
	)
	if err != nil {
		return nil, err
	}
	return enrich.NewSearcher(client, cs.MaxResults), nil
}

func (a *app) enrich(ctx context.Context, opts enrich.RunOptions) (*model.RunSummary, error) {
	skills, err := a.skillsExtractor()
	if err != nil {
		return nil, err
	}
	searcher, err := a.companySearcher()
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = a.cfg.Enrich.Limit
	}
	tracker := enrich.NewTracker(a.store, skills, match.NewMatcher(a.cfg.Enrich.SimilarityThreshold), searcher, enrich.Config{
		Concurrency:       a.cfg.Enrich.Concurrency,
		Taxonomy:          a.cfg.Enrich.TaxonomyVersion,
		CompanyRetryAfter: a.cfg.Enrich.CompanyRetryAfter,
		BreakerThreshold:  a.cfg.Enrich.BreakerThreshold,
	})
	summary, err := tracker.Run(ctx, opts)
	a.record(ctx, summary)
	return summary, err
}

func (a *app) rank(ctx context.Context, opts ranking.RankOptions) (*model.RunSummary, []model.RankedPosting, error) {
	rcfg, err := ranking.LoadConfig(a.cfg.Ranking.Path)
	if err != nil {
		return nil, nil, err
	}
	ranker := ranking.NewRanker(a.store, rcfg, ranking.TextLocator{}, a.cfg.Enrich.Concurrency)
	summary, ranked, err := ranker.RankAll(ctx, opts)
	a.record(ctx, summary)
	return summary, ranked, err
}

// record persists a run summary. Dry runs leave no trace in the store.
func (a *app) record(ctx context.Context, summary *model.RunSummary) {
	if summary == nil || summary.DryRun {
		return
	}
	if err := a.store.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
		zap.L().Warn("save run summary failed",
			zap.String("run_id", summary.RunID),
			zap.Error(err),
		)
	}
}
