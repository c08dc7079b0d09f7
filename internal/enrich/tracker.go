// Package enrich selects postings and companies that still need enrichment,
// derives seniority, skills and company matches, and records each outcome
// exactly once through the store's compare-and-set primitives.
package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobs-etl/internal/match"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/resilience"
	"github.com/sells-group/jobs-etl/internal/store"
	"github.com/sells-group/jobs-etl/pkg/companysearch"
)

// Searcher looks up candidate company profiles by employer name.
type Searcher interface {
	SearchCompanies(ctx context.Context, name string) ([]model.CompanyProfile, error)
}

// clientSearcher adapts a companysearch.Client to Searcher.
type clientSearcher struct {
	client companysearch.Client
	limit  int
}

// NewSearcher wraps a company search client, requesting up to limit
// candidates per name.
func NewSearcher(client companysearch.Client, limit int) Searcher {
	return &clientSearcher{client: client, limit: limit}
}

func (s *clientSearcher) SearchCompanies(ctx context.Context, name string) ([]model.CompanyProfile, error) {
	return s.client.Search(ctx, name, s.limit)
}

// Config holds tracker settings.
type Config struct {
	// Concurrency bounds the work in flight within one pass.
	Concurrency int
	// Taxonomy labels the seniority rule set that resolved a posting.
	Taxonomy string
	// CompanyRetryAfter re-selects no-match companies older than this.
	// Zero never retries.
	CompanyRetryAfter time.Duration
	// BreakerThreshold stops the company pass after this many consecutive
	// search failures. Zero disables it.
	BreakerThreshold int
}

// RunOptions selects the passes of one run.
type RunOptions struct {
	Limit        int
	Seniority    bool
	Skills       bool
	Companies    bool
	DryRun       bool
	Retaxonomize bool
}

// Tracker runs enrichment passes against a store.
type Tracker struct {
	store    store.Store
	skills   *SkillsExtractor
	matcher  *match.Matcher
	searcher Searcher
	cfg      Config
	now      func() time.Time
}

// NewTracker creates a Tracker. searcher may be nil, in which case the
// company pass only links postings to base company records.
func NewTracker(st store.Store, skills *SkillsExtractor, matcher *match.Matcher, searcher Searcher, cfg Config) *Tracker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Taxonomy == "" {
		cfg.Taxonomy = "v1"
	}
	if skills == nil {
		skills = NewSkillsExtractor(nil)
	}
	if matcher == nil {
		matcher = match.NewMatcher(match.DefaultThreshold)
	}
	return &Tracker{
		store:    st,
		skills:   skills,
		matcher:  matcher,
		searcher: searcher,
		cfg:      cfg,
		now:      time.Now,
	}
}

// counters collects pass results from concurrent workers.
type counters struct {
	attempted, succeeded, failed, skipped atomic.Int64
	skillsEnriched                        atomic.Int64
	matched, noMatch, companyErrors       atomic.Int64
}

func (c *counters) apply(s *model.RunSummary) {
	s.EnrichmentAttempted += int(c.attempted.Load())
	s.EnrichmentSucceeded += int(c.succeeded.Load())
	s.EnrichmentFailed += int(c.failed.Load())
	s.EnrichmentSkipped += int(c.skipped.Load())
	s.SkillsEnriched += int(c.skillsEnriched.Load())
	s.CompaniesMatched += int(c.matched.Load())
	s.CompaniesNoMatch += int(c.noMatch.Load())
	s.CompanyErrors += int(c.companyErrors.Load())
}

// Run executes the selected passes in order: seniority, skills, companies.
// A store error aborts the run; per-company search errors are counted and
// leave the company pending.
func (t *Tracker) Run(ctx context.Context, opts RunOptions) (*model.RunSummary, error) {
	summary := model.NewRunSummary(model.OpEnrich, t.now())
	summary.DryRun = opts.DryRun
	var c counters

	err := t.run(ctx, opts, summary, &c)
	c.apply(summary)
	summary.Finish(t.now(), err)

	zap.L().Info("enrich run complete",
		zap.String("run_id", summary.RunID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("attempted", summary.EnrichmentAttempted),
		zap.Int("succeeded", summary.EnrichmentSucceeded),
		zap.Int("failed", summary.EnrichmentFailed),
		zap.Int("skipped", summary.EnrichmentSkipped),
		zap.Int("skills_enriched", summary.SkillsEnriched),
		zap.Int("companies_matched", summary.CompaniesMatched),
		zap.Int("companies_no_match", summary.CompaniesNoMatch),
		zap.Int("company_errors", summary.CompanyErrors),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, err
}

func (t *Tracker) run(ctx context.Context, opts RunOptions, summary *model.RunSummary, c *counters) error {
	if opts.Seniority {
		if err := t.seniorityPass(ctx, opts, c); err != nil {
			return err
		}
	}
	if opts.Skills {
		if err := t.skillsPass(ctx, opts, c); err != nil {
			return err
		}
	}
	if opts.Companies {
		if err := t.companyPass(ctx, opts, summary, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) seniorityPass(ctx context.Context, opts RunOptions, c *counters) error {
	if opts.Retaxonomize && !opts.DryRun {
		n, err := t.store.ResetSeniority(ctx, t.cfg.Taxonomy)
		if err != nil {
			return eris.Wrap(err, "enrich: reset seniority")
		}
		zap.L().Info("seniority reset for taxonomy change",
			zap.String("taxonomy", t.cfg.Taxonomy),
			zap.Int64("reset", n),
		)
	}

	pending, err := t.store.PendingSeniority(ctx, opts.Limit)
	if err != nil {
		return eris.Wrap(err, "enrich: pending seniority")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i := range pending {
		p := &pending[i]
		g.Go(func() error {
			return t.enrichSeniority(gctx, p, opts.DryRun, c)
		})
	}
	return eris.Wrap(g.Wait(), "enrich: seniority pass")
}

func (t *Tracker) enrichSeniority(ctx context.Context, p *model.Posting, dryRun bool, c *counters) error {
	c.attempted.Add(1)
	current := p.Enrichment.SeniorityLevel
	derived := ExtractSeniority(p.Ingest.Title)
	improved := derived.MoreSpecificThan(current)

	to, err := p.Enrichment.SeniorityStatus.Resolve(improved)
	if err != nil {
		c.skipped.Add(1)
		return nil
	}
	level := current
	if improved {
		level = derived
	}

	if !dryRun {
		ok, err := t.store.TransitionSeniority(ctx, p.Key, to, level, t.cfg.Taxonomy)
		if err != nil {
			return eris.Wrapf(err, "enrich: transition %s", p.Key)
		}
		if !ok {
			zap.L().Debug("seniority already resolved by another worker", zap.String("dedup_key", p.Key))
			c.skipped.Add(1)
			return nil
		}
	}

	if to == model.StatusUpgraded {
		c.succeeded.Add(1)
	} else {
		c.failed.Add(1)
	}
	return nil
}

func (t *Tracker) skillsPass(ctx context.Context, opts RunOptions, c *counters) error {
	pending, err := t.store.PendingSkills(ctx, opts.Limit)
	if err != nil {
		return eris.Wrap(err, "enrich: pending skills")
	}

	now := t.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i := range pending {
		p := &pending[i]
		g.Go(func() error {
			skills := t.skills.Extract(model.Deref(p.Ingest.Description), p.Ingest.SkillsRaw)
			if opts.DryRun {
				c.skillsEnriched.Add(1)
				return nil
			}
			ok, err := t.store.SetSkills(gctx, p.Key, skills, now)
			if err != nil {
				return eris.Wrapf(err, "enrich: set skills %s", p.Key)
			}
			if ok {
				c.skillsEnriched.Add(1)
			} else {
				c.skipped.Add(1)
			}
			return nil
		})
	}
	return eris.Wrap(g.Wait(), "enrich: skills pass")
}

func (t *Tracker) companyPass(ctx context.Context, opts RunOptions, summary *model.RunSummary, c *counters) error {
	now := t.now()
	if !opts.DryRun {
		linked, created, err := t.store.EnsureCompanies(ctx, now)
		if err != nil {
			return eris.Wrap(err, "enrich: ensure companies")
		}
		summary.CompaniesLinked = linked
		summary.CompaniesCreated = created
	}

	if t.searcher == nil {
		zap.L().Warn("company search not configured, skipping company matching")
		return nil
	}

	policy := model.RetryPolicy{After: t.cfg.CompanyRetryAfter}
	pending, err := t.store.PendingCompanies(ctx, opts.Limit, policy, now)
	if err != nil {
		return eris.Wrap(err, "enrich: pending companies")
	}

	breaker := resilience.NewBreaker(t.cfg.BreakerThreshold)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i := range pending {
		rec := &pending[i]
		g.Go(func() error {
			return t.enrichCompany(gctx, rec, breaker, opts.DryRun, now, c)
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "enrich: company pass")
	}
	if breaker.Open() {
		zap.L().Warn("company search circuit open, remaining companies left pending",
			zap.Int("threshold", t.cfg.BreakerThreshold),
		)
	}
	return nil
}

func (t *Tracker) enrichCompany(ctx context.Context, rec *model.CompanyRecord, breaker *resilience.Breaker, dryRun bool, now time.Time, c *counters) error {
	log := zap.L().With(zap.String("company_key", rec.Key), zap.String("company", rec.DisplayName))

	if err := breaker.Allow(); err != nil {
		c.skipped.Add(1)
		return nil
	}

	candidates, err := t.searcher.SearchCompanies(ctx, rec.DisplayName)
	breaker.Record(err)
	if err != nil {
		c.companyErrors.Add(1)
		log.Warn("company search failed", zap.Error(err))
		return nil
	}

	res, ok := t.matcher.Match(rec.DisplayName, candidates)
	outcome := match.Outcome(res, ok)
	var profile *model.CompanyProfile
	if ok {
		profile = res.Profile
	}

	if !dryRun {
		written, err := t.store.ResolveCompany(ctx, rec.Key, rec.Attempts, outcome, profile, now)
		if err != nil {
			return eris.Wrapf(err, "enrich: resolve company %s", rec.Key)
		}
		if !written {
			log.Debug("company already resolved by another worker")
			c.skipped.Add(1)
			return nil
		}
	}

	if ok {
		c.matched.Add(1)
	} else {
		c.noMatch.Add(1)
	}
	log.Debug("company resolved",
		zap.String("match_status", string(outcome.Status)),
		zap.Float64("score", outcome.Score),
		zap.Int("candidates", len(candidates)),
	)
	return nil
}
