// Package fetcher reads batches of raw postings handed over by a fetch
// collaborator, from a local file, stdin or an HTTP URL, as JSON or CSV.
package fetcher

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobs-etl/internal/model"
)

// Format is a batch file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name. Empty input infers the format from
// the source extension, defaulting to JSON.
func ParseFormat(name, source string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "":
		if strings.EqualFold(filepath.Ext(source), ".csv") {
			return FormatCSV, nil
		}
		return FormatJSON, nil
	default:
		return "", eris.Errorf("fetcher: unknown format %q", name)
	}
}

// record is one batch element: a raw posting plus an optional observation
// time.
type record struct {
	model.RawPosting `mapstructure:",squash"`
	ObservedAt       *time.Time `json:"observed_at,omitempty" mapstructure:"observed_at"`
}

// ReadPostings decodes a batch into observations. Records without an
// observed_at get observedAt.
func ReadPostings(ctx context.Context, r io.Reader, format Format, observedAt time.Time) ([]model.Observation, error) {
	var recs []record
	var err error
	switch format {
	case FormatCSV:
		recs, err = readCSV(ctx, r)
	default:
		recs, err = readJSON(ctx, r)
	}
	if err != nil {
		return nil, err
	}

	out := make([]model.Observation, len(recs))
	for i, rec := range recs {
		at := observedAt
		if rec.ObservedAt != nil {
			at = *rec.ObservedAt
		}
		out[i] = model.Observation{Raw: rec.RawPosting, ObservedAt: at}
	}
	return out, nil
}

func readJSON(ctx context.Context, r io.Reader) ([]record, error) {
	ch, errCh := DecodeJSONArray[record](ctx, r)
	var out []record
	for rec := range ch {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "fetcher: read json batch")
	}
	return out, nil
}

// readCSV maps columns to fields by header name. Empty cells are treated as
// absent; skills_raw is split on ';'.
func readCSV(ctx context.Context, r io.Reader) ([]record, error) {
	rows, errCh := StreamCSV(ctx, r, CSVOptions{TrimSpace: true})

	var header []string
	var out []record
	var decodeErr error
	line := 0
	for row := range rows {
		line++
		if decodeErr != nil {
			continue
		}
		if header == nil {
			header = make([]string, len(row))
			for i, h := range row {
				header[i] = strings.ToLower(strings.TrimPrefix(h, "\ufeff"))
			}
			continue
		}

		fields := make(map[string]any, len(row))
		for i, v := range row {
			if i < len(header) && v != "" {
				fields[header[i]] = v
			}
		}
		var rec record
		if err := decodeRecord(fields, &rec); err != nil {
			decodeErr = eris.Wrapf(err, "fetcher: csv line %d", line)
			continue
		}
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "fetcher: read csv batch")
	}
	return out, decodeErr
}

func decodeRecord(fields map[string]any, rec *record) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           rec,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(";"),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}
