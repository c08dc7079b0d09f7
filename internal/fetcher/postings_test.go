package fetcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name, source string
		want         Format
		wantErr      bool
	}{
		{"json", "x.csv", FormatJSON, false},
		{" CSV ", "", FormatCSV, false},
		{"", "batch.CSV", FormatCSV, false},
		{"", "batch.json", FormatJSON, false},
		{"", "-", FormatJSON, false},
		{"xml", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name+"|"+tt.source, func(t *testing.T) {
			got, err := ParseFormat(tt.name, tt.source)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadPostings_JSON(t *testing.T) {
	input := `[
	  {"company":"Acme","job_title":"Data Analyst","location":"Berlin","salary_min":50000,
	   "skills_raw":["SQL"],"observed_at":"2026-03-01T08:00:00Z"},
	  {"company":"Globex","job_title":"Engineer","location":"Paris","posted_at":"2026-02-20T00:00:00Z"}
	]`
	obs, err := ReadPostings(context.Background(), strings.NewReader(input), FormatJSON, batchTime)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "Acme", obs[0].Raw.Company)
	assert.Equal(t, "Data Analyst", obs[0].Raw.Title)
	require.NotNil(t, obs[0].Raw.SalaryMin)
	assert.Equal(t, 50000.0, *obs[0].Raw.SalaryMin)
	assert.Equal(t, []string{"SQL"}, obs[0].Raw.Skills)
	assert.True(t, obs[0].ObservedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))

	assert.True(t, obs[1].ObservedAt.Equal(batchTime))
	require.NotNil(t, obs[1].Raw.PostedAt)
}

func TestReadPostings_JSONMalformed(t *testing.T) {
	_, err := ReadPostings(context.Background(), strings.NewReader(`[{"company":`), FormatJSON, batchTime)
	assert.Error(t, err)
}

func TestReadPostings_CSV(t *testing.T) {
	input := "\ufeffCompany,job_title,location,salary_min,salary_max,skills_raw,posted_at,observed_at,extra\n" +
		"Acme,Data Analyst,Berlin,50000,70000,SQL; Tableau,2026-02-20T00:00:00Z,,ignored\n" +
		"Globex,Engineer,Paris,,,,,2026-03-01T08:00:00Z,\n"

	obs, err := ReadPostings(context.Background(), strings.NewReader(input), FormatCSV, batchTime)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	a := obs[0]
	assert.Equal(t, "Acme", a.Raw.Company)
	require.NotNil(t, a.Raw.SalaryMin)
	require.NotNil(t, a.Raw.SalaryMax)
	assert.Equal(t, 50000.0, *a.Raw.SalaryMin)
	assert.Equal(t, 70000.0, *a.Raw.SalaryMax)
	assert.Equal(t, []string{"SQL", " Tableau"}, a.Raw.Skills)
	require.NotNil(t, a.Raw.PostedAt)
	assert.True(t, a.ObservedAt.Equal(batchTime))

	g := obs[1]
	assert.Nil(t, g.Raw.SalaryMin)
	assert.Nil(t, g.Raw.Skills)
	assert.Nil(t, g.Raw.PostedAt)
	assert.True(t, g.ObservedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
}

func TestReadPostings_CSVBadCell(t *testing.T) {
	input := "company,job_title,location,salary_min\nAcme,Analyst,Berlin,lots\n"
	_, err := ReadPostings(context.Background(), strings.NewReader(input), FormatCSV, batchTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv line 2")
}

func TestReadPostings_CSVHeaderOnly(t *testing.T) {
	obs, err := ReadPostings(context.Background(), strings.NewReader("company,job_title,location\n"), FormatCSV, batchTime)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

type stubDownloader struct {
	body string
	err  error
}

func (s stubDownloader) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "batch.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	rc, err := Open(ctx, path, nil)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "[]", string(data))

	_, err = Open(ctx, filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	rc, err = Open(ctx, "https://example.com/batch.json", stubDownloader{body: "[1]"})
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	assert.Equal(t, "[1]", string(data))

	_, err = Open(ctx, "https://example.com/batch.json", stubDownloader{err: errors.New("boom")})
	assert.Error(t, err)

	_, err = Open(ctx, "http://example.com/batch.json", nil)
	assert.Error(t, err)
}
