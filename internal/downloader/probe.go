package downloader

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tanq16/sud/internal/utils"
)

// probeFilesize asks the server for the size of url with a HEAD request.
func probeFilesize(ctx context.Context, client *utils.SudHTTPClient, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, &RemoteError{Op: http.MethodHead, URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, &RemoteError{Op: http.MethodHead, URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, &RemoteError{Op: http.MethodHead, URL: url, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return 0, &RemoteError{Op: http.MethodHead, URL: url, StatusCode: resp.StatusCode, Err: ErrMissingContentLength}
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || size < 0 {
		return 0, &RemoteError{Op: http.MethodHead, URL: url, StatusCode: resp.StatusCode, Err: ErrMissingContentLength}
	}
	return size, nil
}
