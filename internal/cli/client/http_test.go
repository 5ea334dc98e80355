package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
	}
}

func TestAPIClient_Get(t *testing.T) {
	t.Run("unwraps the data envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/qa/runs", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"items":[]}}`))
		}))
		defer server.Close()

		resp, err := testClient(server.URL, "").Get("/qa/runs")

		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(resp.Data))
	})

	t.Run("error status becomes an APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"chunk not found"}`))
		}))
		defer server.Close()

		_, err := testClient(server.URL, "").Get("/admin/chunks/missing")

		require.Error(t, err)
		apiErr, ok := err.(*APIError)
		require.True(t, ok)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, "chunk not found", apiErr.Message)
	})

	t.Run("error response keeps its payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"data":{"healthy":false}}`))
		}))
		defer server.Close()

		resp, err := testClient(server.URL, "").Get("/qa/health")

		require.Error(t, err)
		require.NotNil(t, resp)
		assert.JSONEq(t, `{"healthy":false}`, string(resp.Data))
	})

	t.Run("token is presented as a bearer header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer operator-secret", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":{}}`))
		}))
		defer server.Close()

		_, err := testClient(server.URL, "operator-secret").Get("/admin/qa/run")
		require.NoError(t, err)
	})
}

func TestAPIClient_GetWithStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"data":{"status":"pending"}}`))
	}))
	defer server.Close()

	resp, status, err := testClient(server.URL, "").GetWithStatus("/vehicles/k/chunks/c?type=fluid_capacity")

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"status":"pending"}`, string(resp.Data))
}

func TestAPIClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "value", body["field"])
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer server.Close()

	resp, err := testClient(server.URL, "").Post("/admin/chunks/chunk-1/unban", map[string]string{"field": "value"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
}

func TestAPIClient_RequireToken(t *testing.T) {
	err := testClient("http://localhost:8080", "").RequireToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWOOPKB_ADMIN_TOKEN")

	assert.NoError(t, testClient("http://localhost:8080", "tok").RequireToken())
}

func TestAPIClient_DownloadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<svg></svg>"))
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "diagram.svg")
	err := testClient(server.URL, "").DownloadFile(server.URL+"/signed", outputPath)

	require.NoError(t, err)
	content, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "<svg></svg>", string(content))
}

func TestNewAPIClientWithCmd_EnvFallback(t *testing.T) {
	os.Setenv("SWOOPKB_API_URL", "http://kb.internal:8080")
	os.Setenv("SWOOPKB_ADMIN_TOKEN", "env-token")
	defer func() {
		os.Unsetenv("SWOOPKB_API_URL")
		os.Unsetenv("SWOOPKB_ADMIN_TOKEN")
	}()

	client, err := NewAPIClientWithCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://kb.internal:8080", client.baseURL)
	assert.Equal(t, "env-token", client.token)
}
