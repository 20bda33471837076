package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryRuntime(t *testing.T) *Runtime {
	t.Helper()

	t.Setenv("JWT_SECRET", "bootstrap-test-secret")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_EMAIL", "root@example.com")
	t.Setenv("ADMIN_PASSWORD", "change-me-now")
	t.Setenv("CRON_SECRET", "cron-secret")

	runtime, err := Build(Options{LogOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, h http.Handler, method, path, token, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func TestBuild_MemoryStoreServesAuthFlow(t *testing.T) {
	runtime := memoryRuntime(t)
	h := runtime.Handler

	code, resp := call(t, h, http.MethodPost, "/auth/login", "", `{"username":"root","password":"change-me-now"}`)
	require.Equal(t, http.StatusOK, code, resp.Message)

	var login struct {
		Token string `json:"token"`
		User  struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	assert.Equal(t, "admin", login.User.Role)
	require.NotEmpty(t, login.Token)

	code, _ = call(t, h, http.MethodPost, "/auth/register", login.Token,
		`{"username":"ed","email":"ed@example.com","password":"secret1","role":"editor","profile":{"firstName":"Ed","lastName":"Itor"}}`)
	assert.Equal(t, http.StatusCreated, code)

	code, _ = call(t, h, http.MethodGet, "/admin/users", login.Token, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = call(t, h, http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, h, http.MethodPost, "/internal/maintenance/locks", "cron-secret", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestBuild_HealthReportsOK(t *testing.T) {
	runtime := memoryRuntime(t)

	rec := httptest.NewRecorder()
	runtime.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuild_LogsReadyEvent(t *testing.T) {
	t.Setenv("JWT_SECRET", "bootstrap-test-secret")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")

	var buf bytes.Buffer
	runtime, err := Build(Options{LogOutput: &buf})
	require.NoError(t, err)
	defer runtime.Close()

	assert.Contains(t, buf.String(), `"msg":"app_ready"`)
	assert.Contains(t, buf.String(), `"store":"memory"`)
}

func TestBuild_PartialAdminCredentialsFail(t *testing.T) {
	t.Setenv("JWT_SECRET", "bootstrap-test-secret")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD", "")

	_, err := Build(Options{LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap admin")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthHandler_Degraded(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(failingPinger{})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}
