package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/config"
	"github.com/loghawk/loghawk/internal/extract"
	"github.com/loghawk/loghawk/internal/llm"
	"github.com/loghawk/loghawk/internal/metrics"
	"github.com/loghawk/loghawk/internal/models"
	"github.com/loghawk/loghawk/internal/rules"
	"github.com/loghawk/loghawk/internal/storage"
)

const testLogContent = `10.9.0.1 - - [10/Oct/2026:13:55:36 +0000] "GET /search?q=1%20UNION%20SELECT%20password HTTP/1.1" 200 1234
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
Failed password for admin from 10.9.0.2
`

// newOllamaStub emulates the generate endpoint, returning the given model
// output for every prompt.
func newOllamaStub(t *testing.T, modelOutput string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"response": modelOutput})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	store    *storage.Store
	content  *extract.DirStore
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, llmURL string, admission config.AdmissionConfig) *testEnv {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	content, err := extract.NewDirStore(t.TempDir())
	require.NoError(t, err)

	orch := llm.NewOrchestrator(config.LLMConfig{
		Provider:       "ollama",
		Model:          "test-model",
		BaseURL:        llmURL,
		ChunkSizeBytes: 8000,
		RequestTimeout: 5 * time.Second,
	}, nil, nil)
	engine := rules.NewEngine(rules.Library(), nil, nil)
	m := metrics.New(prometheus.NewRegistry())

	p := New(store, content, engine, orch, NewGuard(admission), m, nil, 2)
	t.Cleanup(p.Close)

	return &testEnv{store: store, content: content, pipeline: p}
}

func (e *testEnv) createUpload(t *testing.T, user, name, content string) *storage.Upload {
	t.Helper()
	u, err := e.store.CreateUpload(user, name, int64(len(content)))
	require.NoError(t, err)
	_, err = e.content.Save(u.ID, name, strings.NewReader(content))
	require.NoError(t, err)
	return u
}

func (e *testEnv) waitForStatus(t *testing.T, uploadID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		u, err := e.store.GetUpload(uploadID)
		return err == nil && u.Status == want
	}, 10*time.Second, 20*time.Millisecond, "upload never reached %s", want)
}

func TestPipelineFullRun(t *testing.T) {
	srv := newOllamaStub(t, `[{"category":"DATA_EXFILTRATION","severity":"MEDIUM","title":"Credential harvesting","description":"query extracts password data","line":1,"confidence":0.7}]`)
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "access.log", testLogContent)
	ar, err := env.pipeline.Start(u.ID, "alice", StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, ar)

	env.waitForStatus(t, u.ID, storage.StatusCompleted)

	gotAR, err := env.store.GetAnalysisResult(u.ID)
	require.NoError(t, err)
	assert.True(t, gotAR.RuleBasedCompleted)
	assert.Equal(t, storage.StatusCompleted, gotAR.Status)

	rows, err := env.store.FindingsForResult(gotAR.ID)
	require.NoError(t, err)

	var haveSQLi, haveBrute, haveLLM bool
	for _, r := range rows {
		switch {
		case r.Category == "SQL_INJECTION" && r.Source == "RULE_BASED":
			haveSQLi = true
		case r.Category == "BRUTE_FORCE" && r.Severity == "HIGH":
			haveBrute = true
		case r.Source == "LLM":
			haveLLM = true
		}
	}
	assert.True(t, haveSQLi, "pattern finding persisted")
	assert.True(t, haveBrute, "statistical finding persisted")
	assert.True(t, haveLLM, "llm finding persisted")
}

func TestPipelineConflictOnDoubleTrigger(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "a.log", "line one\n")
	require.NoError(t, env.store.SetUploadStatus(u.ID, storage.StatusAnalyzing))

	_, err := env.pipeline.Start(u.ID, "alice", StartOptions{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPipelineAdmissionDenied(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 1, Window: time.Hour})

	a := env.createUpload(t, "alice", "a.log", "line one\n")
	b := env.createUpload(t, "alice", "b.log", "line one\n")

	_, err := env.pipeline.Start(a.ID, "alice", StartOptions{})
	require.NoError(t, err)

	_, err = env.pipeline.Start(b.ID, "alice", StartOptions{})
	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestPipelineFailsOnMissingContent(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u, err := env.store.CreateUpload("alice", "gone.log", 0)
	require.NoError(t, err)

	_, err = env.pipeline.Start(u.ID, "alice", StartOptions{})
	require.NoError(t, err)

	env.waitForStatus(t, u.ID, storage.StatusFailed)
	ar, err := env.store.GetAnalysisResult(u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ar.ErrorMessage)
}

func TestResumeSkipsCompletedRulePhase(t *testing.T) {
	srv := newOllamaStub(t, `[{"category":"XSS","severity":"LOW","title":"Model finding","description":"d","line":1,"confidence":0.6}]`)
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "access.log", testLogContent)

	// Simulate a crash after the rule phase: marker set, rule findings
	// persisted, upload stuck in ANALYZING.
	ar, err := env.store.EnsureAnalysisResult(u.ID, false)
	require.NoError(t, err)
	require.NoError(t, env.store.SaveFindings(ar.ID, []models.Finding{{
		Severity:    models.SeverityHigh,
		Category:    models.CategoryBruteForce,
		Title:       "Persisted before crash",
		Source:      models.SourceRuleBased,
		Fingerprint: "pre-crash-rule",
	}}))
	require.NoError(t, env.store.MarkRulePhaseCompleted(ar.ID))
	require.NoError(t, env.store.SetUploadStatus(u.ID, storage.StatusAnalyzing))

	require.NoError(t, env.pipeline.Resume(u.ID))
	env.waitForStatus(t, u.ID, storage.StatusCompleted)

	rows, err := env.store.FindingsForResult(ar.ID)
	require.NoError(t, err)

	var preCrash, llmRows, ruleSQLi int
	for _, r := range rows {
		switch {
		case r.Fingerprint == "pre-crash-rule":
			preCrash++
		case r.Source == "LLM":
			llmRows++
		case r.Category == "SQL_INJECTION" && r.Source == "RULE_BASED":
			ruleSQLi++
		}
	}
	assert.Equal(t, 1, preCrash, "persisted rule findings survive exactly once")
	assert.Equal(t, 1, llmRows, "only the llm phase runs")
	assert.Zero(t, ruleSQLi, "the completed rule phase is not re-run")
}

func TestResumeRestartsInterruptedRulePhase(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "access.log", testLogContent)

	// Simulate a crash mid rule phase: marker unset, partial findings
	// already written.
	ar, err := env.store.EnsureAnalysisResult(u.ID, false)
	require.NoError(t, err)
	require.NoError(t, env.store.SaveFindings(ar.ID, []models.Finding{{
		Severity:    models.SeverityLow,
		Category:    models.CategoryXSS,
		Title:       "Partial output",
		Source:      models.SourceRuleBased,
		Fingerprint: "partial-rule",
	}}))
	require.NoError(t, env.store.SetUploadStatus(u.ID, storage.StatusAnalyzing))

	require.NoError(t, env.pipeline.Resume(u.ID))
	env.waitForStatus(t, u.ID, storage.StatusCompleted)

	rows, err := env.store.FindingsForResult(ar.ID)
	require.NoError(t, err)

	var partial, ruleSQLi int
	for _, r := range rows {
		switch {
		case r.Fingerprint == "partial-rule":
			partial++
		case r.Category == "SQL_INJECTION" && r.Source == "RULE_BASED":
			ruleSQLi++
		}
	}
	assert.Zero(t, partial, "partial rule output is dropped before the rerun")
	assert.Equal(t, 1, ruleSQLi, "rule findings are regenerated deterministically")

	gotAR, err := env.store.GetAnalysisResult(u.ID)
	require.NoError(t, err)
	assert.True(t, gotAR.RuleBasedCompleted)
}

func TestResumeIgnoresFinishedUploads(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "a.log", "line one\n")
	require.NoError(t, env.store.SetUploadStatus(u.ID, storage.StatusCompleted))

	require.NoError(t, env.pipeline.Resume(u.ID))

	got, err := env.store.GetUpload(u.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status, "finished runs are left alone")
}

func TestCloseWithPendingOverflowEnqueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		jobs:   make(chan job, 1),
		logger: zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
	}

	// No workers running: the first job fills the queue and the second
	// spills into the overflow goroutine, which parks on the send.
	p.enqueue(job{uploadID: "queued"})
	p.enqueue(job{uploadID: "overflow"})
	time.Sleep(10 * time.Millisecond)

	require.NotPanics(t, p.Close)
}

func TestReanalyzeProducesSameFindings(t *testing.T) {
	srv := newOllamaStub(t, "[]")
	env := newTestEnv(t, srv.URL, config.AdmissionConfig{MaxRequests: 10, Window: time.Minute})

	u := env.createUpload(t, "alice", "access.log", testLogContent)

	_, err := env.pipeline.Start(u.ID, "alice", StartOptions{})
	require.NoError(t, err)
	env.waitForStatus(t, u.ID, storage.StatusCompleted)

	ar, err := env.store.GetAnalysisResult(u.ID)
	require.NoError(t, err)
	first, err := env.store.FindingsForResult(ar.ID)
	require.NoError(t, err)

	_, err = env.pipeline.Start(u.ID, "alice", StartOptions{Reanalyze: true})
	require.NoError(t, err)
	env.waitForStatus(t, u.ID, storage.StatusCompleted)

	second, err := env.store.FindingsForResult(ar.ID)
	require.NoError(t, err)
	require.Len(t, second, len(first), "identical input yields identical findings")

	prints := func(rows []storage.FindingModel) map[string]bool {
		out := make(map[string]bool, len(rows))
		for _, r := range rows {
			out[r.Fingerprint] = true
		}
		return out
	}
	assert.Equal(t, prints(first), prints(second))
}
