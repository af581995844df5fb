package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speedrun-cli/internal/resilience"
)

func TestFetchEmployeeProfiles(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       string
		wantTransient bool
		wantCount     int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{"data": [
				{"source_id": "p1", "company_id": "acme", "full_name": "Ada Park", "title": "CEO"},
				{"source_id": "p2", "full_name": "Ben Ito", "title": "VP Engineering"}
			]}`,
			wantCount: 2,
		},
		{
			name:          "rate_limit",
			status:        http.StatusTooManyRequests,
			body:          `{"error": "slow down"}`,
			wantErr:       "unexpected status 429",
			wantTransient: true,
		},
		{
			name:          "server_error",
			status:        http.StatusBadGateway,
			body:          `bad gateway`,
			wantErr:       "unexpected status 502",
			wantTransient: true,
		},
		{
			name:    "not_found",
			status:  http.StatusNotFound,
			body:    `{"error": "unknown company"}`,
			wantErr: "unexpected status 404",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/companies/acme/employees", r.URL.Path)
				assert.Equal(t, "25", r.URL.Query().Get("page_size"))
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "test-key", WithPageSize(25), WithRateLimit(0, 0))

			profiles, err := client.FetchEmployeeProfiles(context.Background(), "acme")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
				assert.Nil(t, profiles)
				return
			}

			require.NoError(t, err)
			require.Len(t, profiles, tt.wantCount)
			assert.Equal(t, "p1", profiles[0].SourceID)
			assert.Equal(t, "acme", profiles[1].CompanyID, "missing company link is inherited")
		})
	}
}

func TestFetchEmployeeProfiles_Pagination(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"data": [{"source_id": "p1", "title": "CFO"}], "next_cursor": "c2"}`))
		case "c2":
			_, _ = w.Write([]byte(`{"data": [{"source_id": "p2", "title": "Controller"}], "next_cursor": ""}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", WithRateLimit(0, 0))
	profiles, err := client.FetchEmployeeProfiles(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "p2", profiles[1].SourceID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchEmployeeProfiles_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	profiles, err := NewClient(srv.URL, "").FetchEmployeeProfiles(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestFetchEmployeeProfiles_EmptyCompany(t *testing.T) {
	_, err := NewClient("http://unused", "k").FetchEmployeeProfiles(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company id is required")
}

func TestFetchEmployeeProfiles_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.FetchEmployeeProfiles(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestFetchEmployeeProfiles_CancelledWhileWaiting(t *testing.T) {
	client := NewClient("http://unused", "k", WithRateLimit(0.001, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchEmployeeProfiles(ctx, "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.jsonl")
	content := `{"source_id": "a1", "company_id": "acme", "title": "CEO"}

{"source_id": "b1", "company_id": "globex", "title": "CTO"}
not json
{"source_id": "a2", "title": "Head of Procurement"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fp := NewFileProvider(path)
	profiles, err := fp.FetchEmployeeProfiles(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "a1", profiles[0].SourceID)
	assert.Equal(t, "a2", profiles[1].SourceID)
	assert.Equal(t, "acme", profiles[1].CompanyID)

	profiles, err = fp.FetchEmployeeProfiles(context.Background(), "globex")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "b1", profiles[0].SourceID)
}

func TestFileProvider_MissingFile(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "nope.jsonl")).FetchEmployeeProfiles(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrichment: open")
}

var _ Provider = (*FileProvider)(nil)
