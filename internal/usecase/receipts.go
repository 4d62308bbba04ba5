package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/jetstream"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/storage"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/tenant"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/utils"
)

const (
	receiptErrBuffer    = 64
	asyncReceiptTimeout = 10 * time.Second
	msgIDHeader         = "Nats-Msg-Id"
)

// ReceiptRecorder appends audit receipts.
type ReceiptRecorder interface {
	// Write persists the receipt before returning its id.
	Write(ctx context.Context, receipt *model.ActionReceipt) (string, error)
	// WriteAsync assigns the id and persists in the background. Failures are
	// reported on the writer's error channel, never to the caller.
	WriteAsync(ctx context.Context, receipt *model.ActionReceipt) string
}

// ReceiptWriterConfig configures a ReceiptWriter.
type ReceiptWriterConfig struct {
	PoolSize    int
	SubjectBase string // receipts -> receipts.<tenant>.<action>
}

type receiptTask struct {
	ctx     context.Context
	receipt *model.ActionReceipt
}

// ReceiptWriter persists receipts and fans them out to NATS.
type ReceiptWriter struct {
	repo        storage.ReceiptRepo
	publisher   jetstream.ClientInterface
	subjectBase string
	pool        *ants.PoolWithFunc
	errCh       chan error
	pending     sync.WaitGroup
	closeOnce   sync.Once
	mu          sync.RWMutex // guards closed against pending.Add
	closed      bool
	baseLogger  *zap.Logger
}

var _ ReceiptRecorder = (*ReceiptWriter)(nil)

// NewReceiptWriter creates the writer and its async pool. publisher may be nil.
func NewReceiptWriter(cfg ReceiptWriterConfig, repo storage.ReceiptRepo, publisher jetstream.ClientInterface, baseLogger *zap.Logger) (*ReceiptWriter, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	w := &ReceiptWriter{
		repo:        repo,
		publisher:   publisher,
		subjectBase: cfg.SubjectBase,
		errCh:       make(chan error, receiptErrBuffer),
		baseLogger:  baseLogger.Named("receipt_writer"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(receiptTask)
		if !ok {
			w.baseLogger.Error("Invalid receipt task type received", zap.Any("data", i))
			return
		}
		defer w.pending.Done()
		w.runAsync(task)
	},
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			w.baseLogger.Error("Panic recovered in receipt writer", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt writer pool: %w", err)
	}
	w.pool = pool
	return w, nil
}

// Write persists receipt synchronously and publishes it best-effort.
func (w *ReceiptWriter) Write(ctx context.Context, receipt *model.ActionReceipt) (string, error) {
	ctx = w.prepare(ctx, receipt)
	if err := w.repo.Save(ctx, receipt); err != nil {
		observer.IncReceiptError("persist")
		return "", fmt.Errorf("failed to persist receipt %s: %w", receipt.ID, err)
	}
	observer.IncReceiptWritten(string(receipt.Outcome), "sync")
	w.publish(ctx, receipt)
	return receipt.ID, nil
}

// WriteAsync implements ReceiptRecorder.
func (w *ReceiptWriter) WriteAsync(ctx context.Context, receipt *model.ActionReceipt) string {
	ctx = w.prepare(ctx, receipt)
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		observer.IncReceiptError("submit")
		w.baseLogger.Error("Receipt writer closed, dropping receipt",
			zap.String("receipt_id", receipt.ID), zap.String("action_type", receipt.ActionType))
		return receipt.ID
	}
	w.pending.Add(1)
	w.mu.RUnlock()

	// The task outlives the request that produced it.
	task := receiptTask{ctx: context.WithoutCancel(ctx), receipt: receipt}
	if err := w.pool.Invoke(task); err != nil {
		observer.IncReceiptError("submit")
		w.report(fmt.Errorf("failed to submit receipt %s: %w", receipt.ID, err))
		w.pending.Done()
	}
	return receipt.ID
}

// Errors exposes async write failures.
func (w *ReceiptWriter) Errors() <-chan error {
	return w.errCh
}

// Run logs async failures until ctx is done or the writer is closed.
func (w *ReceiptWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.errCh:
			if !ok {
				return
			}
			w.baseLogger.Error("Async receipt write failed", zap.Error(err))
		}
	}
}

// Close waits for in-flight async writes, then releases the pool.
func (w *ReceiptWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.pending.Wait()
		w.pool.Release()
		close(w.errCh)
		w.baseLogger.Info("Receipt writer stopped")
	})
}

func (w *ReceiptWriter) runAsync(task receiptTask) {
	ctx, cancel := context.WithTimeout(task.ctx, asyncReceiptTimeout)
	defer cancel()

	if err := w.repo.Save(ctx, task.receipt); err != nil {
		observer.IncReceiptError("persist")
		w.report(fmt.Errorf("failed to persist receipt %s (%s/%s): %w",
			task.receipt.ID, task.receipt.ActionType, task.receipt.Outcome, err))
		return
	}
	observer.IncReceiptWritten(string(task.receipt.Outcome), "async")
	w.publish(ctx, task.receipt)
}

// prepare fills ids and scopes ctx to the receipt's tenant when ctx has none.
func (w *ReceiptWriter) prepare(ctx context.Context, receipt *model.ActionReceipt) context.Context {
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
	if receipt.CorrelationID == "" {
		receipt.CorrelationID = tenant.CorrelationID(ctx)
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = utils.Now()
	}
	if _, err := tenant.FromContext(ctx); err != nil {
		ctx = tenant.WithTenantID(ctx, receipt.TenantID)
	}
	return ctx
}

func (w *ReceiptWriter) publish(ctx context.Context, receipt *model.ActionReceipt) {
	if w.publisher == nil || w.subjectBase == "" {
		return
	}
	data, err := json.Marshal(receipt)
	if err != nil {
		observer.IncReceiptError("publish")
		logger.FromContext(ctx).Warn("Failed to encode receipt for publish", zap.String("receipt_id", receipt.ID), zap.Error(err))
		return
	}
	if err := w.publisher.Publish(ctx, ReceiptSubject(w.subjectBase, receipt), data, map[string]string{msgIDHeader: receipt.ID}); err != nil {
		observer.IncReceiptError("publish")
		logger.FromContext(ctx).Warn("Failed to publish receipt", zap.String("receipt_id", receipt.ID), zap.Error(err))
	}
}

// report forwards err without blocking; a full channel drops it after logging.
func (w *ReceiptWriter) report(err error) {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		w.baseLogger.Error("Receipt error after close", zap.Error(err))
		return
	}
	select {
	case w.errCh <- err:
	default:
		w.baseLogger.Error("Receipt error channel full, dropping error", zap.Error(err))
	}
}

// ReceiptSubject builds <base>.<tenant>.<action> with dots inside tokens flattened.
func ReceiptSubject(base string, receipt *model.ActionReceipt) string {
	return strings.Join([]string{base, subjectToken(receipt.TenantID), subjectToken(receipt.ActionType)}, ".")
}

func subjectToken(s string) string {
	s = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// newReceipt builds a receipt with a JSON snapshot of payload.
func newReceipt(actor model.ActorType, actorID, action string, outcome model.ReceiptOutcome, reason string, payload interface{}) *model.ActionReceipt {
	r := &model.ActionReceipt{
		ActorType:  actor,
		ActorID:    actorID,
		ActionType: action,
		Outcome:    outcome,
		Reason:     reason,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			r.Payload = datatypes.JSON(data)
		}
	}
	return r
}
