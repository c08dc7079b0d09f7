package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Downloader fetches a remote batch.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Open returns a reader for a batch source: "-" for stdin, an http(s) URL
// fetched through dl, or a local file path.
func Open(ctx context.Context, src string, dl Downloader) (io.ReadCloser, error) {
	switch {
	case src == "" || src == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		if dl == nil {
			return nil, eris.Errorf("fetcher: no downloader for %s", src)
		}
		return dl.Download(ctx, src)
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", src)
		}
		return f, nil
	}
}
