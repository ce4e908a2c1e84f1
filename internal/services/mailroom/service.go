// Package mailroom turns unseen mailbox messages into text mining jobs.
// Analysts forward lead emails to a dedicated address; the mailroom polls
// the mailbox and submits each message body for signature mining.
package mailroom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// JobSubmitter is the slice of the engine the mailroom needs.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, req *models.JobRequest) (*models.MiningJob, error)
}

// Email is one fetched mailbox message.
type Email struct {
	SeqNum  uint32
	From    string
	Subject string
	Body    string
	Date    time.Time
}

// Service polls an IMAP folder and submits each unseen message's text body
// as a text mining job. Messages are marked seen only after the job was
// accepted, so a crash re-delivers instead of dropping.
type Service struct {
	config    *common.MailroomConfig
	submitter JobSubmitter
	logger    arbor.ILogger

	pollInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates the mailroom over the given job submitter.
func NewService(config *common.MailroomConfig, submitter JobSubmitter, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:       config,
		submitter:    submitter,
		logger:       logger,
		pollInterval: common.DurationOr(config.PollInterval, 2*time.Minute),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Service) configured() bool {
	return s.config.Host != "" && s.config.Username != "" && s.config.Password != "" && s.config.TenantID != ""
}

// Start launches the intake loop.
func (s *Service) Start() error {
	if !s.configured() {
		return fmt.Errorf("mailroom needs host, username, password and tenant_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("mailroom already running")
	}
	s.running = true

	s.logger.Info().
		Str("host", s.config.Host).
		Str("folder", s.folder()).
		Dur("poll_interval", s.pollInterval).
		Msg("Starting mailroom")

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop cancels the intake loop and waits for the current cycle to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping mailroom...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Mailroom stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		submitted, err := s.intake(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("Mailbox intake failed")
		} else if submitted > 0 {
			s.logger.Info().Int("jobs", submitted).Msg("Mailbox intake complete")
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}

// intake runs one poll cycle over a fresh IMAP session.
func (s *Service) intake(ctx context.Context) (int, error) {
	c, err := s.connect()
	if err != nil {
		return 0, err
	}
	defer c.Logout()

	mbox, err := c.Select(s.folder(), false)
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", s.folder(), err)
	}
	if mbox.Messages == 0 {
		return 0, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return 0, nil
	}

	emails, err := s.fetch(c, seqNums)
	if err != nil {
		return 0, err
	}

	submitted, seen := s.process(ctx, emails)
	if len(seen) > 0 {
		if err := markSeen(c, seen); err != nil {
			// The jobs are already in; a redelivered message only makes a
			// duplicate job whose rows fold together at aggregation.
			s.logger.Warn().Err(err).Msg("Failed to mark messages seen")
		}
	}
	return submitted, ctx.Err()
}

// process submits eligible emails and returns the seqnums safe to mark seen.
// Messages that fail submission stay unseen for the next cycle.
func (s *Service) process(ctx context.Context, emails []Email) (int, []uint32) {
	submitted := 0
	var seen []uint32

	for _, email := range emails {
		if ctx.Err() != nil {
			return submitted, seen
		}
		if !s.matchesFilter(email.Subject) {
			continue
		}
		if email.Body == "" {
			// Nothing minable; settle it so it is not refetched every poll.
			seen = append(seen, email.SeqNum)
			continue
		}

		job, err := s.submitter.SubmitJob(ctx, &models.JobRequest{
			TenantID: s.config.TenantID,
			Type:     models.JobTypeText,
			FileName: email.Subject,
			Input:    []byte(email.Body),
		})
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("from", email.From).
				Str("subject", email.Subject).
				Msg("Failed to submit intake job")
			continue
		}

		seen = append(seen, email.SeqNum)
		submitted++
		s.logger.Info().
			Str("job_id", job.ID).
			Str("from", email.From).
			Str("subject", email.Subject).
			Msg("Mailbox message submitted for mining")
	}
	return submitted, seen
}

func (s *Service) matchesFilter(subject string) bool {
	if s.config.SubjectFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(subject), strings.ToLower(s.config.SubjectFilter))
}

func (s *Service) folder() string {
	if s.config.Folder == "" {
		return "INBOX"
	}
	return s.config.Folder
}

func (s *Service) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var c *client.Client
	var err error
	if s.config.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := c.Login(s.config.Username, s.config.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	return c, nil
}

// fetch pulls envelope and body for the given messages.
func (s *Service) fetch(c *client.Client, seqNums []uint32) ([]Email, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(seqNums))

	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}, messages)
	}()

	var emails []Email
	for msg := range messages {
		if msg == nil {
			continue
		}

		body, err := extractTextBody(msg.GetBody(section))
		if err != nil {
			// An unparseable body is settled as empty rather than refetched
			// forever.
			s.logger.Warn().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to parse message body")
			body = ""
		}

		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		emails = append(emails, Email{
			SeqNum:  msg.SeqNum,
			From:    from,
			Subject: msg.Envelope.Subject,
			Body:    body,
			Date:    msg.Envelope.Date,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

func markSeen(c *client.Client, seqNums []uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil)
}

// extractTextBody pulls the first text/plain part out of a MIME message.
func extractTextBody(r io.Reader) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var body string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read body: %w", err)
				}
				body = string(b)
			}
		}
	}
	return strings.TrimSpace(body), nil
}
