package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
)

// memStore is an in-memory stand-in for the unique constraints the ingest
// path relies on. It is safe for concurrent use.
type memStore struct {
	mu       sync.Mutex
	events   map[string]*model.WebhookEvent
	jobs     map[string]*model.OutboxJob
	jobKeys  map[string]string
	messages map[string]*model.SmsMessage
	threads  map[string]*model.SmsThread
	lines    map[string]*model.BusinessLine
}

func newMemStore(lines ...*model.BusinessLine) *memStore {
	s := &memStore{
		events:   make(map[string]*model.WebhookEvent),
		jobs:     make(map[string]*model.OutboxJob),
		jobKeys:  make(map[string]string),
		messages: make(map[string]*model.SmsMessage),
		threads:  make(map[string]*model.SmsThread),
		lines:    make(map[string]*model.BusinessLine),
	}
	for _, l := range lines {
		s.lines[l.PhoneNumber] = l
	}
	return s
}

func (s *memStore) FindLineByPhoneUnscoped(_ context.Context, phone string) (*model.BusinessLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[phone]
	if !ok {
		return nil, fmt.Errorf("%w: line for %s", apperrors.ErrNotFound, phone)
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) RecordIfNew(_ context.Context, event *model.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.Provider + "|" + event.ProviderEventID
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	cp := *event
	s.events[key] = &cp
	return true, nil
}

func (s *memStore) Enqueue(ctx context.Context, job *model.OutboxJob) (string, bool, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + string(job.JobType) + "|" + job.IdempotencyKey
	if id, ok := s.jobKeys[key]; ok {
		return id, false, nil
	}
	cp := *job
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Status = model.JobStatusPending
	s.jobs[cp.ID] = &cp
	s.jobKeys[key] = cp.ID
	return cp.ID, true, nil
}

func (s *memStore) ClaimBatch(context.Context, string, int) ([]model.OutboxJob, error) {
	return nil, nil
}
func (s *memStore) Complete(context.Context, string) error                   { return nil }
func (s *memStore) Fail(context.Context, string, string, time.Duration) error { return nil }
func (s *memStore) FailTerminal(context.Context, string, string) error        { return nil }
func (s *memStore) ReleaseStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) FindJobByID(_ context.Context, jobID string) (*model.OutboxJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) jobsOfType(jobType model.JobType) []model.OutboxJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboxJob
	for _, j := range s.jobs {
		if j.JobType == jobType {
			out = append(out, *j)
		}
	}
	return out
}

func (s *memStore) UpsertThread(_ context.Context, thread *model.SmsThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := thread.TenantID + "|" + thread.LinePhone + "|" + thread.Counterparty
	if existing, ok := s.threads[key]; ok {
		thread.ID = existing.ID
		return nil
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	cp := *thread
	s.threads[key] = &cp
	return nil
}

// UpsertMessage mirrors the postgres upsert: status fields follow the sequence
// guard, blank descriptive fields are filled in any order.
func (s *memStore) UpsertMessage(_ context.Context, msg *model.SmsMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := msg.Provider + "|" + msg.ProviderMessageSid
	existing, ok := s.messages[key]
	if !ok {
		cp := *msg
		s.messages[key] = &cp
		return true, nil
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&existing.Body, msg.Body)
	fill(&existing.ThreadID, msg.ThreadID)
	fill(&existing.FromNumber, msg.FromNumber)
	fill(&existing.ToNumber, msg.ToNumber)
	if existing.Direction == "" {
		existing.Direction = msg.Direction
	}
	if existing.StatusSequence >= msg.StatusSequence {
		return false, nil
	}
	existing.Status = msg.Status
	existing.StatusSequence = msg.StatusSequence
	existing.ErrorCode = msg.ErrorCode
	return true, nil
}

func (s *memStore) message(provider, sid string) *model.SmsMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[provider+"|"+sid]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// recordingReceipts keeps receipts in memory and persists synchronously.
type recordingReceipts struct {
	mu       sync.Mutex
	receipts []*model.ActionReceipt
	writeErr error
}

func (r *recordingReceipts) Write(ctx context.Context, receipt *model.ActionReceipt) (string, error) {
	if r.writeErr != nil {
		return "", r.writeErr
	}
	return r.WriteAsync(ctx, receipt), nil
}

func (r *recordingReceipts) WriteAsync(ctx context.Context, receipt *model.ActionReceipt) string {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if receipt.TenantID == "" {
		if tenantID, err := tenant.FromContext(ctx); err == nil {
			receipt.TenantID = tenantID
		} else {
			receipt.TenantID = tenant.Unattributed
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return receipt.ID
}

func (r *recordingReceipts) withOutcome(outcome model.ReceiptOutcome) []*model.ActionReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ActionReceipt
	for _, rc := range r.receipts {
		if rc.Outcome == outcome {
			out = append(out, rc)
		}
	}
	return out
}

func (r *recordingReceipts) all() []*model.ActionReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.ActionReceipt(nil), r.receipts...)
}
