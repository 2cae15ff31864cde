package utils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FileNameFromURL(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://example.com/files/archive.tar.gz", "archive.tar.gz"},
		{"https://example.com/files/report%20v2.pdf?sig=abc", "report v2.pdf"},
		{"https://example.com/a/we:ird*name", "we_ird_name"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
	}
	for _, tt := range tests {
		got, err := FileNameFromURL(tt.link)
		require.NoError(t, err, tt.link)
		assert.Equal(t, tt.want, got, tt.link)
	}

	_, err := FileNameFromURL("relative/path.bin")
	assert.Error(t, err)
}

func Test_RenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file-(1).bin"), RenewOutputPath(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file-(1).bin"), nil, 0644))
	assert.Equal(t, filepath.Join(dir, "file-(2).bin"), RenewOutputPath(path))
}

func Test_ParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer x:y", "X-Empty:", "broken"})
	assert.Equal(t, map[string]string{"Authorization": "Bearer x:y", "X-Empty": ""}, got)
}

func Test_Formatting(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "1.00 KB/s", FormatSpeed(1024))
	assert.Equal(t, "--", FormatETA(0))
	assert.Equal(t, "1m30s", FormatETA(90))
}

func Test_SudHTTPClient_Headers(t *testing.T) {
	received := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Clone()
	}))
	defer server.Close()

	headers := map[string]string{"X-Token": "secret", "Range": "bytes=0-1"}
	client := NewSudHTTPClient(HTTPClientConfig{Headers: headers})
	headers["X-Token"] = "mutated"
	assert.Equal(t, DefaultTimeout, client.Timeout())

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=5-9")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	got := <-received
	assert.Equal(t, ToolUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "secret", got.Get("X-Token"))
	assert.Equal(t, "bytes=5-9", got.Get("Range"))
}
