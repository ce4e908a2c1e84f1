package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/ingest"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/miners"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

type stubPage struct {
	html string
}

func (p *stubPage) HTML(ctx context.Context) (string, error) { return p.html, nil }
func (p *stubPage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return nil
}
func (p *stubPage) Close() error { return nil }

// stubRenderer serves canned HTML per URL and counts renders.
type stubRenderer struct {
	mu      sync.Mutex
	pages   map[string]string
	html    string
	status  int
	err     error
	renders int
}

func (r *stubRenderer) Render(ctx context.Context, url string, opts interfaces.RenderOptions) (*interfaces.RenderResult, error) {
	r.mu.Lock()
	r.renders++
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	html, status := r.html, r.status
	if r.pages != nil {
		var ok bool
		if html, ok = r.pages[url]; !ok {
			return &interfaces.RenderResult{HTTPStatus: 404, Page: &stubPage{}}, nil
		}
	}
	if status == 0 {
		status = 200
	}
	return &interfaces.RenderResult{HTTPStatus: status, Page: &stubPage{html: html}}, nil
}

func (r *stubRenderer) Close() error { return nil }

func (r *stubRenderer) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders
}

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}
func (s *stubLLM) Model() string { return "stub-model" }
func (s *stubLLM) Close() error  { return nil }

type harness struct {
	engine   *Engine
	store    interfaces.StorageManager
	dispatch *queue.DispatchQueue
	config   *common.Config
}

func newTestEngine(t *testing.T, renderer interfaces.PageRenderer, llm interfaces.LLMService) *harness {
	t.Helper()
	logger := arbor.NewLogger()

	mgr, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	db := mgr.DB().(*badgerhold.Store).Badger()
	dispatch, err := queue.NewDispatchQueue(db, "test_jobs", time.Minute, 3)
	require.NoError(t, err)

	lex := lexicon.Default()
	registry := miners.NewRegistry(
		miners.NewStructuredMiner(lex),
		miners.NewTabularMiner(lex),
		miners.NewUnstructuredMiner(lex),
		miners.NewDOMMiner(lex, 0),
		miners.NewAIMiner(llm, nil, 2, 256),
	)

	cfg := common.NewDefaultConfig()
	eng := NewEngine(cfg, mgr, dispatch, events.NewService(logger), renderer, registry, ingest.NewService(lex), lex, logger)

	return &harness{engine: eng, store: mgr, dispatch: dispatch, config: cfg}
}

func (h *harness) jobLogs(t *testing.T, jobID string) map[string]bool {
	t.Helper()
	entries, err := h.store.JobStorage().GetJobLogs(context.Background(), testTenant, jobID)
	require.NoError(t, err)
	stages := make(map[string]bool, len(entries))
	for _, e := range entries {
		stages[e.Stage] = true
	}
	return stages
}

func TestSubmitJobValidatesRequest(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *models.JobRequest
	}{
		{"nil request", nil},
		{"missing tenant", &models.JobRequest{Type: models.JobTypeText, Input: []byte("x")}},
		{"unknown type", &models.JobRequest{TenantID: testTenant, Type: "carrier-pigeon"}},
		{"url job without url", &models.JobRequest{TenantID: testTenant, Type: models.JobTypeURL}},
		{"text job without input", &models.JobRequest{TenantID: testTenant, Type: models.JobTypeText}},
		{"url job without renderer", &models.JobRequest{TenantID: testTenant, Type: models.JobTypeURL, SourceURL: "https://acme.example/team"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.SubmitJob(ctx, tc.req)
			assert.Error(t, err)
		})
	}
}

func TestSubmitJobRejectsTestURLsInProduction(t *testing.T) {
	h := newTestEngine(t, &stubRenderer{html: "<html></html>"}, nil)
	ctx := context.Background()

	req := &models.JobRequest{
		TenantID:  testTenant,
		Type:      models.JobTypeURL,
		SourceURL: "http://localhost:8080/team",
	}
	_, err := h.engine.SubmitJob(ctx, req)
	require.NoError(t, err) // development mode allows loopback targets

	h.config.Environment = "production"
	_, err = h.engine.SubmitJob(ctx, req)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "test urls")
}

func TestSubmitJobPersistsAndEnqueues(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte("Email: jane@acme.com"),
	})
	require.NoError(t, err)
	assert.Contains(t, job.ID, "job_")
	assert.Equal(t, models.JobStatusPending, job.Status)

	stored, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	// Default miner flags applied, DOM dropped for non-url input.
	assert.True(t, stored.Miners.Structured)
	assert.False(t, stored.Miners.DOM)

	msg, deleteFn, err := h.dispatch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, testTenant, msg.TenantID)
	require.NoError(t, deleteFn())
}

func TestRunJobCompletesTextJob(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	input := "Name: Jane Doe\nEmail: jane.doe@acme.com\nCompany: Acme GmbH\nPhone: +49 30 123456789\n"
	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte(input),
		Miners:   models.MinerFlags{Structured: true, Unstructured: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.CompletedAt.IsZero())
	assert.Equal(t, 1, done.ResultCount)
	assert.Equal(t, 2, done.Stats.MinersRun)
	assert.Equal(t, 0, done.Stats.MinersFailed)
	assert.Equal(t, 1, done.Stats.MergedContacts)
	assert.Greater(t, done.Stats.QualityScore, 0.0)
	assert.NotEmpty(t, done.Stats.Decision)

	rows, err := h.store.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "jane.doe@acme.com", row.Email)
	assert.Equal(t, "Jane Doe", row.Name)
	assert.Equal(t, "Acme GmbH", row.Company)
	assert.Contains(t, row.Sources, string(models.MinerStructured))
	assert.Greater(t, row.Score, 0.0)
	assert.Equal(t, models.ResultStatusNew, row.Status)

	// Raw preserves the merged candidate verbatim.
	var raw models.Candidate
	require.NoError(t, json.Unmarshal([]byte(row.Raw), &raw))
	assert.Equal(t, row.Email, raw.Email)

	stages := h.jobLogs(t, job.ID)
	for _, stage := range []string{"miner_started", "miner_finished", "merged", "persisted"} {
		assert.True(t, stages[stage], "missing %s milestone", stage)
	}
}

func TestRunJobCompletesCSVFileJob(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	csv := "email,name,company\njane@acme.com,Jane Doe,Acme Ltd\nbob@other.org,Bob Roe,Other Org\n"
	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeFile,
		FileName: "contacts.csv",
		Input:    []byte(csv),
		Miners:   models.MinerFlags{Tabular: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.ResultCount)

	rows, err := h.store.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	emails := make(map[string]string, len(rows))
	for _, r := range rows {
		emails[r.Email] = r.Company
	}
	assert.Equal(t, "Acme Ltd", emails["jane@acme.com"])
	assert.Equal(t, "Other Org", emails["bob@other.org"])
}

const teamPageHTML = `<!DOCTYPE html>
<html><body>
<h1>Our Team</h1>
<div class="team-member">
  <h3>Jane Doe</h3>
  <p>Chief Engineer</p>
  <p>jane.doe@acme.com</p>
  <p>+1 202 555 0143</p>
</div>
<div class="team-member">
  <h3>Bob Roe</h3>
  <p>Head of Sales</p>
  <p>bob.roe@acme.com</p>
</div>
</body></html>`

func TestRunJobRendersURLOnce(t *testing.T) {
	renderer := &stubRenderer{html: teamPageHTML}
	h := newTestEngine(t, renderer, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID:  testTenant,
		Type:      models.JobTypeURL,
		SourceURL: "https://acme.example/company",
		Miners:    models.MinerFlags{Structured: true, Unstructured: true, DOM: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))

	// Three miners, one render.
	assert.Equal(t, 1, renderer.renderCount())

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	rows, err := h.store.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "https://acme.example/company", row.SourceURL)
	}
}

func TestRunJobSecondPassFollowsProfileLinks(t *testing.T) {
	listing := `<html><body>
<h1>Speakers</h1>
<ul><li><a href="/people/jane">Jane Doe</a></li></ul>
</body></html>`
	profile := `<html><body>
<div class="profile-card">
  <h2>Jane Doe</h2>
  <p>Chief Engineer at Acme GmbH</p>
  <p>jane.doe@acme.com</p>
</div>
</body></html>`

	renderer := &stubRenderer{pages: map[string]string{
		"https://acme.example/speakers":    listing,
		"https://acme.example/people/jane": profile,
	}}
	h := newTestEngine(t, renderer, nil)
	h.config.Miners.SecondPass = true
	h.config.Miners.MaxProfiles = 3
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID:  testTenant,
		Type:      models.JobTypeURL,
		SourceURL: "https://acme.example/speakers",
		Miners:    models.MinerFlags{DOM: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))
	assert.Equal(t, 2, renderer.renderCount(), "listing plus one profile")

	rows, err := h.store.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "jane.doe@acme.com", rows[0].Email)
}

func TestRunJobBlockedPageCompletesEmpty(t *testing.T) {
	renderer := &stubRenderer{
		html:   "<html><body><h1>Access denied</h1><p>Request blocked.</p></body></html>",
		status: 403,
	}
	h := newTestEngine(t, renderer, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID:  testTenant,
		Type:      models.JobTypeURL,
		SourceURL: "https://acme.example/team",
		Miners:    models.MinerFlags{Unstructured: true, DOM: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status, "a blocked provider alone never fails the job")
	assert.True(t, done.Stats.WasBlocked)
	assert.Equal(t, 0, done.ResultCount)
	assert.Equal(t, string(models.DecisionFailed), done.Stats.Decision)
}

func TestRunJobFailsWhenAllMinersFail(t *testing.T) {
	llm := &stubLLM{err: errors.New("connection refused")}
	h := newTestEngine(t, nil, llm)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte("Nothing to see here, just prose without addresses."),
		Miners:   models.MinerFlags{AI: true},
	})
	require.NoError(t, err)

	err = h.engine.RunJob(ctx, testTenant, job.ID)
	require.Error(t, err)

	done, getErr := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "all miners failed")
	assert.True(t, h.jobLogs(t, job.ID)["failed"])
}

func TestRunJobSkipsTerminalJob(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte("Email: jane@acme.com"),
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.CancelJob(ctx, testTenant, job.ID))

	// Redelivery of a settled job is a no-op, not a re-run.
	require.NoError(t, h.engine.RunJob(ctx, testTenant, job.ID))

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, done.Status)

	rows, err := h.store.ResultStorage().ListResultsByJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFailJobMarksFailure(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte("Email: jane@acme.com"),
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.FailJob(ctx, testTenant, job.ID, "job panicked: boom"))

	done, err := h.store.JobStorage().GetJob(ctx, testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, "job panicked: boom", done.Error)

	// Already terminal: settles quietly.
	assert.NoError(t, h.engine.FailJob(ctx, testTenant, job.ID, "again"))
}

func TestCancelJobTerminalGuard(t *testing.T) {
	h := newTestEngine(t, nil, nil)
	ctx := context.Background()

	job, err := h.engine.SubmitJob(ctx, &models.JobRequest{
		TenantID: testTenant,
		Type:     models.JobTypeText,
		Input:    []byte("Email: jane@acme.com"),
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.CancelJob(ctx, testTenant, job.ID))
	err = h.engine.CancelJob(ctx, testTenant, job.ID)
	assert.ErrorIs(t, err, interfaces.ErrJobTerminal)
}
