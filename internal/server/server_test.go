package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quickbyte/internal/config"
	"github.com/ifuryst/quickbyte/internal/models"
	"github.com/ifuryst/quickbyte/internal/queue"
	"github.com/ifuryst/quickbyte/internal/service"
	"github.com/ifuryst/quickbyte/internal/testutil"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fakeJobs struct {
	name    string
	payload interface{}
}

func (f *fakeJobs) Trigger(ctx context.Context, job string, payload interface{}) (bool, error) {
	if job != "fetch-news" {
		return false, fmt.Errorf("%w %q", queue.ErrUnknownJob, job)
	}
	f.name = job
	f.payload = payload
	return true, nil
}

func newTestServer(t *testing.T) (*Server, *fakeJobs) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{TOTPSecret: testSecret},
	}
	jobs := &fakeJobs{}
	return NewServer(cfg, testutil.NewDB(t), jobs, nil, testutil.NewLogger()), jobs
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func otpHeader(t *testing.T) map[string]string {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	return map[string]string{service.OTPHeader: code}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestPipelineSummary(t *testing.T) {
	s, _ := newTestServer(t)
	testutil.CreateNews(t, s.DB, models.StageNew)
	testutil.CreateNews(t, s.DB, models.StagePublished)

	w := do(t, s, http.MethodGet, "/api/v1/pipeline/summary", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary service.PipelineSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.EqualValues(t, 2, summary.TotalNews)
	assert.EqualValues(t, 1, summary.StageCounts[models.StagePublished])
}

func TestPipelineGraph(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/pipeline/graph", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"filter-novelty"`)
	assert.Contains(t, w.Body.String(), `"upload-video"`)
}

func TestListNewsByStage(t *testing.T) {
	s, _ := newTestServer(t)
	testutil.CreateNews(t, s.DB, models.StageNew)
	scheduled := testutil.CreateNews(t, s.DB, models.StageScheduled)

	w := do(t, s, http.MethodGet, "/api/v1/news?stage=scheduled", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		News []models.News `json:"news"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.News, 1)
	assert.Equal(t, scheduled.ID, body.News[0].ID)

	w = do(t, s, http.MethodGet, "/api/v1/news?stage=drafted", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetNews(t *testing.T) {
	s, _ := newTestServer(t)
	n, _ := testutil.CreateScript(t, s.DB, models.StageScriptGenerated, 1)

	w := do(t, s, http.MethodGet, fmt.Sprintf("/api/v1/news/%d", n.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), n.Title)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/news/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/news/abc", "", nil).Code)
}

func TestDispatchJobRequiresOTP(t *testing.T) {
	s, jobs := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/jobs/fetch-news", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, jobs.name)

	w = do(t, s, http.MethodPost, "/api/v1/jobs/fetch-news", "", otpHeader(t))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "fetch-news", jobs.name)
	assert.Nil(t, jobs.payload)
}

func TestDispatchJobPayload(t *testing.T) {
	s, jobs := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/jobs/fetch-news", `{"force":true}`, otpHeader(t))
	require.Equal(t, http.StatusAccepted, w.Code)
	raw, ok := jobs.payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"force":true}`, string(raw))

	w = do(t, s, http.MethodPost, "/api/v1/jobs/fetch-news", `{"force":`, otpHeader(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/jobs/unknown", "", otpHeader(t))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggersWithoutScheduler(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/pipeline/triggers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"triggers":[]}`, w.Body.String())
}
