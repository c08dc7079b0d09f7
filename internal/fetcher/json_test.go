package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func collectJSON(t *testing.T, ch <-chan testRecord, errCh <-chan error) ([]testRecord, error) {
	t.Helper()
	var out []testRecord
	for rec := range ch {
		out = append(out, rec)
	}
	return out, <-errCh
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[{"id":1,"name":"alpha"},{"id":2,"name":"beta"}]`
	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(input))
	recs, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	assert.Equal(t, []testRecord{{1, "alpha"}, {2, "beta"}}, recs)
}

func TestDecodeJSONArray_EmptyInput(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(""))
	recs, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	assert.Empty(t, recs)

	ch, errCh = DecodeJSONArray[testRecord](context.Background(), strings.NewReader("[]"))
	recs, err = collectJSON(t, ch, errCh)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(`{"id":1}`))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_BadElement(t *testing.T) {
	ch, errCh := DecodeJSONArray[testRecord](context.Background(), strings.NewReader(`[{"id":1},{"id":"x"}]`))
	recs, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode element 1")
	assert.Len(t, recs, 1)
}
