package mailroom

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

type stubSubmitter struct {
	requests []*models.JobRequest
	err      error
}

func (s *stubSubmitter) SubmitJob(ctx context.Context, req *models.JobRequest) (*models.MiningJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	return &models.MiningJob{ID: "job_intake", TenantID: req.TenantID}, nil
}

func newTestService(config *common.MailroomConfig, submitter JobSubmitter) *Service {
	if config.TenantID == "" {
		config.TenantID = testTenant
	}
	return NewService(config, submitter, arbor.NewLogger())
}

func TestProcessSubmitsTextJobs(t *testing.T) {
	submitter := &stubSubmitter{}
	svc := newTestService(&common.MailroomConfig{}, submitter)

	submitted, seen := svc.process(context.Background(), []Email{
		{SeqNum: 1, From: "jane@acme.com", Subject: "Team page leads", Body: "Jane Doe\njane.doe@acme.com\nAcme GmbH"},
		{SeqNum: 2, From: "bob@acme.com", Subject: "Conference contacts", Body: "Bob Roe <bob.roe@acme.com>"},
	})

	assert.Equal(t, 2, submitted)
	assert.Equal(t, []uint32{1, 2}, seen)

	require.Len(t, submitter.requests, 2)
	req := submitter.requests[0]
	assert.Equal(t, testTenant, req.TenantID)
	assert.Equal(t, models.JobTypeText, req.Type)
	assert.Equal(t, "Team page leads", req.FileName)
	assert.Contains(t, string(req.Input), "jane.doe@acme.com")
}

func TestProcessHonorsSubjectFilter(t *testing.T) {
	submitter := &stubSubmitter{}
	svc := newTestService(&common.MailroomConfig{SubjectFilter: "leads"}, submitter)

	submitted, seen := svc.process(context.Background(), []Email{
		{SeqNum: 1, Subject: "New LEADS from the fair", Body: "jane@acme.com"},
		{SeqNum: 2, Subject: "Lunch on Friday?", Body: "see you there"},
	})

	assert.Equal(t, 1, submitted)
	// Filtered-out messages stay unseen; they are not ours to consume.
	assert.Equal(t, []uint32{1}, seen)
	require.Len(t, submitter.requests, 1)
	assert.Equal(t, "New LEADS from the fair", submitter.requests[0].FileName)
}

func TestProcessSettlesEmptyBodies(t *testing.T) {
	submitter := &stubSubmitter{}
	svc := newTestService(&common.MailroomConfig{}, submitter)

	submitted, seen := svc.process(context.Background(), []Email{
		{SeqNum: 7, Subject: "Attachment only", Body: ""},
	})

	assert.Zero(t, submitted)
	assert.Equal(t, []uint32{7}, seen)
	assert.Empty(t, submitter.requests)
}

func TestProcessLeavesFailedSubmissionsUnseen(t *testing.T) {
	submitter := &stubSubmitter{err: errors.New("store unavailable")}
	svc := newTestService(&common.MailroomConfig{}, submitter)

	submitted, seen := svc.process(context.Background(), []Email{
		{SeqNum: 1, Subject: "Leads", Body: "jane@acme.com"},
	})

	assert.Zero(t, submitted)
	assert.Empty(t, seen)
}

func TestStartRequiresConfiguration(t *testing.T) {
	svc := newTestService(&common.MailroomConfig{Enabled: true}, &stubSubmitter{})
	assert.Error(t, svc.Start())
}

func mimeMessage(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestExtractTextBodyPrefersPlainPart(t *testing.T) {
	raw := mimeMessage(
		"From: Jane Doe <jane@acme.com>",
		"To: mailroom@colligo.example",
		"Subject: New leads",
		"Date: Mon, 24 Aug 2026 10:00:00 +0000",
		"Content-Type: multipart/alternative; boundary=frontier",
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Jane Doe",
		"jane.doe@acme.com",
		"Acme GmbH",
		"",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Jane Doe</p>",
		"",
		"--frontier--",
	)

	body, err := extractTextBody(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\r\njane.doe@acme.com\r\nAcme GmbH", body)
}

func TestExtractTextBodySinglePart(t *testing.T) {
	raw := mimeMessage(
		"From: Bob Roe <bob@acme.com>",
		"To: mailroom@colligo.example",
		"Subject: One contact",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"bob.roe@acme.com",
	)

	body, err := extractTextBody(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "bob.roe@acme.com", body)
}
