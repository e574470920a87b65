package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// maxErrorBody bounds how much of an error response body is kept in errors.
const maxErrorBody = 4 * types.KB

// ProbeResult contains the metadata read from a HEAD request
type ProbeResult struct {
	FileSize      int64
	SupportsRange bool
	Filename      string
	ContentType   string
}

// ProbeServer issues a metadata-only request for rawurl. A missing
// Content-Length yields FileSize 0, never an error.
func ProbeServer(ctx context.Context, client *Client, rawurl string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Canceled("probe")
		}
		return nil, fmt.Errorf("%w: failed to get file size: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: "failed to get file size"}
	}

	result := &ProbeResult{
		SupportsRange: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}

	// resp.ContentLength is always 0 for HEAD with some servers, so read the header.
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		size, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", types.ErrTransport, cl)
		}
		result.FileSize = size
	}

	if mtype, _ := httpheader.ContentType(resp.Header); mtype != "" {
		result.ContentType = mtype
	}
	if _, name, _ := httpheader.ContentDisposition(resp.Header); name != "" {
		result.Filename = filepath.Base(name)
	}

	return result, nil
}

// Get fetches rawurl from offset. A ranged request must be answered with
// 206, otherwise the error wraps ErrResumeMismatch; a full request must be
// answered with a 2xx, otherwise the error wraps ErrTransport. The caller
// owns the returned body.
func Get(ctx context.Context, client *Client, rawurl string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Canceled("download")
		}
		if offset > 0 {
			return nil, fmt.Errorf("%w: %v", types.ErrResumeMismatch, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		return nil, statusError(resp, true)
	}
	if offset == 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, statusError(resp, false)
	}
	return resp, nil
}

func statusError(resp *http.Response, resume bool) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &types.StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
		Resume:     resume,
	}
}
