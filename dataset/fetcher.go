package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxBodyBytes bounds how much of a remote table is read.
const maxBodyBytes = 64 << 20

// open returns a reader over the raw bytes of src. Every failure wraps
// ErrSourceUnavailable.
func open(ctx context.Context, src Source, client *http.Client, timeout time.Duration) (io.ReadCloser, error) {
	switch src.Kind {
	case SourceBuiltin:
		data, ok := builtins[src.Location]
		if !ok {
			return nil, fmt.Errorf("%w: unknown builtin dataset %q", ErrSourceUnavailable, src.Location)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	case SourceFile:
		file, err := os.Open(src.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return file, nil
	case SourceURL:
		return fetchURL(ctx, src.Location, client, timeout)
	default:
		return nil, fmt.Errorf("%w: unsupported source kind %q", ErrSourceUnavailable, src.Kind)
	}
}

func fetchURL(ctx context.Context, url string, client *http.Client, timeout time.Duration) (io.ReadCloser, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %s", ErrSourceUnavailable, url, resp.Status)
	}

	// read fully here so the timeout covers the body as well
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSourceUnavailable, url, err)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// decodeCharset converts r from the named encoding to UTF-8. Empty and
// UTF-8 names pass r through unchanged.
func decodeCharset(r io.Reader, encoding string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", encoding, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
