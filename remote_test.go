package duckling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectScheme(t *testing.T) {
	tests := map[string]locationScheme{
		"data.duckdb":             schemeLocal,
		":memory:":                schemeLocal,
		"file:///tmp/x.duckdb":    schemeFile,
		"s3://bucket/x.duckdb":    schemeS3,
		"S3://bucket/x.duckdb":    schemeS3,
		"http://host/x.duckdb":    schemeHTTP,
		"https://host/x.duckdb":   schemeHTTPS,
		"/var/lib/https/x.duckdb": schemeLocal,
	}
	for location, want := range tests {
		assert.Equal(t, want, detectScheme(location), location)
	}

	assert.True(t, schemeS3.remote())
	assert.True(t, schemeHTTPS.remote())
	assert.False(t, schemeFile.remote())
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://analytics/warehouse/2024/sales.duckdb")
	require.NoError(t, err)
	assert.Equal(t, "analytics", bucket)
	assert.Equal(t, "warehouse/2024/sales.duckdb", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, err := parseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveLocalLocations(t *testing.T) {
	ctx := context.Background()

	path, cached, err := resolveLocation(ctx, "data.duckdb", nil)
	require.NoError(t, err)
	assert.Equal(t, "data.duckdb", path)
	assert.Empty(t, cached)

	path, cached, err = resolveLocation(ctx, "file:///tmp/data.duckdb", nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/data.duckdb", path)
	assert.Empty(t, cached)
}

func TestResolveHTTPLocation(t *testing.T) {
	payload := []byte("not really a database")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/db/sales.duckdb" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	cfg := &Config{Remote: RemoteConfig{CacheDir: t.TempDir()}}

	path, cached, err := resolveLocation(context.Background(), srv.URL+"/db/sales.duckdb", cfg)
	require.NoError(t, err)
	assert.Equal(t, path, cached)
	assert.Equal(t, cfg.Remote.CacheDir, filepath.Dir(path))
	assert.Equal(t, ".duckdb", filepath.Ext(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, _, err = resolveLocation(context.Background(), srv.URL+"/missing.duckdb", cfg)
	assert.ErrorContains(t, err, "status 404")
}
