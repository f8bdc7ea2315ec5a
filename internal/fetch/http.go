package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/lox/smosaic/internal/httputil"
)

// HTTP retrieves files with GET requests.
type HTTP struct {
	Client *http.Client
}

func (h HTTP) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = httputil.NewClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%s: status %d: %w", ref.Path, resp.StatusCode, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: status %d: %w", ref.Path, resp.StatusCode, ErrDenied)
	default:
		// 429 and 5xx are worth retrying.
		return nil, fmt.Errorf("%s: status %d", ref.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
