package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobs-etl/internal/identity"
	"github.com/sells-group/jobs-etl/internal/match"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store, company, title, location string, mutate ...func(*model.IngestFields)) string {
	t.Helper()
	in := model.IngestFields{CompanyName: company, Title: title, Location: location}
	for _, m := range mutate {
		m(&in)
	}
	key := identity.ResolveKey(company, title, location)
	_, err := st.UpsertPosting(context.Background(), key, in, t0)
	require.NoError(t, err)
	return key
}

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]model.CompanyProfile
	err     error
	calls   []string
}

func (f *fakeSearcher) SearchCompanies(_ context.Context, name string) ([]model.CompanyProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[name], nil
}

func newTestTracker(st store.Store, s Searcher, cfg Config) *Tracker {
	tr := NewTracker(st, nil, match.NewMatcher(0.80), s, cfg)
	tr.now = func() time.Time { return t0.Add(time.Hour) }
	return tr
}

func TestTracker_SeniorityPass(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	senior := seed(t, st, "Acme", "Senior Data Engineer", "Berlin")
	plain := seed(t, st, "Acme", "Data Analyst", "Berlin")

	tr := newTestTracker(st, nil, Config{Concurrency: 2})
	sum, err := tr.Run(ctx, RunOptions{Seniority: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, sum.Status)
	assert.Equal(t, 2, sum.EnrichmentAttempted)
	assert.Equal(t, 1, sum.EnrichmentSucceeded)
	assert.Equal(t, 1, sum.EnrichmentFailed)

	got, err := st.GetPosting(ctx, senior)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUpgraded, got.Enrichment.SeniorityStatus)
	assert.Equal(t, model.SenioritySenior, got.Enrichment.SeniorityLevel)

	got, err = st.GetPosting(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailedToUpgrade, got.Enrichment.SeniorityStatus)
	assert.Equal(t, model.SeniorityUnknown, got.Enrichment.SeniorityLevel)

	// Second run finds nothing pending.
	sum, err = tr.Run(ctx, RunOptions{Seniority: true})
	require.NoError(t, err)
	assert.Zero(t, sum.EnrichmentAttempted)
}

func TestTracker_SeniorityDryRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	key := seed(t, st, "Acme", "Lead Analyst", "Berlin")

	tr := newTestTracker(st, nil, Config{})
	sum, err := tr.Run(ctx, RunOptions{Seniority: true, DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.EnrichmentSucceeded)

	got, err := st.GetPosting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotTried, got.Enrichment.SeniorityStatus)
}

func TestTracker_Retaxonomize(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	key := seed(t, st, "Acme", "Data Analyst", "Berlin")

	_, err := newTestTracker(st, nil, Config{Taxonomy: "v1"}).Run(ctx, RunOptions{Seniority: true})
	require.NoError(t, err)

	// Same taxonomy: nothing to redo.
	sum, err := newTestTracker(st, nil, Config{Taxonomy: "v1"}).Run(ctx, RunOptions{Seniority: true, Retaxonomize: true})
	require.NoError(t, err)
	assert.Zero(t, sum.EnrichmentAttempted)

	sum, err = newTestTracker(st, nil, Config{Taxonomy: "v2"}).Run(ctx, RunOptions{Seniority: true, Retaxonomize: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.EnrichmentAttempted)

	got, err := st.GetPosting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailedToUpgrade, got.Enrichment.SeniorityStatus)
}

func TestTracker_SkillsPass(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	key := seed(t, st, "Acme", "Data Analyst", "Berlin", func(in *model.IngestFields) {
		in.Description = model.Str("Strong SQL and Python, Tableau a plus")
		in.SkillsRaw = []string{"Excel"}
	})
	empty := seed(t, st, "Globex", "Data Analyst", "Berlin")

	tr := newTestTracker(st, nil, Config{})
	sum, err := tr.Run(ctx, RunOptions{Skills: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.SkillsEnriched)

	got, err := st.GetPosting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"excel", "python", "sql", "tableau"}, got.Enrichment.Skills)
	require.NotNil(t, got.Enrichment.SkillsEnrichedAt)

	got, err = st.GetPosting(ctx, empty)
	require.NoError(t, err)
	assert.Empty(t, got.Enrichment.Skills)
	assert.NotNil(t, got.Enrichment.SkillsEnrichedAt)

	sum, err = tr.Run(ctx, RunOptions{Skills: true})
	require.NoError(t, err)
	assert.Zero(t, sum.SkillsEnriched)
}

func TestTracker_CompanyPass(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "Acme Corp", "Data Analyst", "Berlin")
	seed(t, st, "Acme Corp", "Data Engineer", "Berlin")
	seed(t, st, "Globex", "Data Analyst", "Paris")

	s := &fakeSearcher{results: map[string][]model.CompanyProfile{
		"Acme Corp": {{Name: "Acme Corporation", ExternalID: "g-1", SizeBucket: "1001-5000"}},
		"Globex":    {{Name: "Initech"}},
	}}
	tr := newTestTracker(st, s, Config{Concurrency: 2})

	sum, err := tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.CompaniesLinked)
	assert.Equal(t, 2, sum.CompaniesCreated)
	assert.Equal(t, 1, sum.CompaniesMatched)
	assert.Equal(t, 1, sum.CompaniesNoMatch)

	acme, err := st.GetCompany(ctx, identity.CompanyKey("Acme Corp"))
	require.NoError(t, err)
	assert.Equal(t, model.MatchMatched, acme.Match.Status)
	require.NotNil(t, acme.Profile)
	assert.Equal(t, "g-1", acme.Profile.ExternalID)
	assert.NotNil(t, acme.EnrichedAt)

	globex, err := st.GetCompany(ctx, identity.CompanyKey("Globex"))
	require.NoError(t, err)
	assert.Equal(t, model.MatchNoMatchFound, globex.Match.Status)
	assert.Nil(t, globex.Profile)

	// Without a retry policy, resolved companies are never searched again.
	s.calls = nil
	sum, err = tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Empty(t, s.calls)
	assert.Zero(t, sum.CompaniesCreated)
}

func TestTracker_CompanyRetryPolicy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "Globex", "Data Analyst", "Paris")

	s := &fakeSearcher{results: map[string][]model.CompanyProfile{}}
	tr := newTestTracker(st, s, Config{CompanyRetryAfter: 24 * time.Hour})
	_, err := tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	require.Len(t, s.calls, 1)

	// Inside the retry window: not selected.
	_, err = tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Len(t, s.calls, 1)

	s.results["Globex"] = []model.CompanyProfile{{Name: "Globex Inc"}}
	tr.now = func() time.Time { return t0.Add(48 * time.Hour) }
	sum, err := tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Len(t, s.calls, 2)
	assert.Equal(t, 1, sum.CompaniesMatched)

	c, err := st.GetCompany(ctx, identity.CompanyKey("Globex"))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Attempts)
	assert.True(t, c.Match.IsMatched())
}

func TestTracker_SearchErrorsLeaveCompanyPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "Acme", "Data Analyst", "Berlin")
	seed(t, st, "Globex", "Data Analyst", "Berlin")
	seed(t, st, "Initech", "Data Analyst", "Berlin")

	s := &fakeSearcher{err: errors.New("upstream down")}
	tr := newTestTracker(st, s, Config{Concurrency: 1, BreakerThreshold: 2})

	sum, err := tr.Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, sum.Status)
	assert.Equal(t, 2, sum.CompanyErrors)
	assert.Equal(t, 1, sum.EnrichmentSkipped)
	assert.Len(t, s.calls, 2)

	pending, err := st.PendingCompanies(ctx, 0, model.RetryPolicy{}, t0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestTracker_NoSearcherOnlyLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	key := seed(t, st, "Acme", "Data Analyst", "Berlin")

	sum, err := newTestTracker(st, nil, Config{}).Run(ctx, RunOptions{Companies: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CompaniesCreated)

	p, err := st.GetPosting(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, p.Enrichment.CompanyKey)
	assert.Equal(t, identity.CompanyKey("Acme"), *p.Enrichment.CompanyKey)
}
