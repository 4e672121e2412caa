// Package forwarder hands collected outbound results to the internal API.
//
// The Forwarder runs as a background worker that polls the correlation
// store. A record is forwarded once every gateway it was sent to has
// answered, or once it has waited longer than MaxWait, whichever comes
// first. Complete records are deleted after the hand-off. An incomplete
// record is kept with the count of results already sent, so results that
// land later go out in a follow-up batch; it is deleted once complete or
// dropped by the store's retention. A failed hand-off is retried on the
// next poll.
//
// # Concurrency
//
// Records are forwarded sequentially within each poll. Multiple instances
// sharing a store may forward the same record twice; the internal API
// treats result batches idempotently by request id.
package forwarder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/metriport/ihe-gateway/internal/api"
	"github.com/metriport/ihe-gateway/pkg/correlation"
	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// Poster delivers a result batch. *api.Client is the production
// implementation.
type Poster interface {
	PostResults(ctx context.Context, tx ihe.TransactionType, batch api.ResultBatch) error
}

// Config holds forwarder configuration
type Config struct {
	PollInterval time.Duration
	// MaxWait forwards incomplete records once they are this old
	MaxWait time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		MaxWait:      10 * time.Minute,
	}
}

// Forwarder moves finished records from the store to the internal API
type Forwarder struct {
	store  correlation.Store
	poster Poster
	logger *slog.Logger

	pollInterval time.Duration
	maxWait      time.Duration
	now          func() time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a forwarder
func New(store correlation.Store, poster Poster, cfg *Config, logger *slog.Logger) *Forwarder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaults.MaxWait
	}

	return &Forwarder{
		store:        store,
		poster:       poster,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		now:          time.Now,
	}
}

// Start begins background forwarding
func (f *Forwarder) Start(ctx context.Context) {
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run()
	f.logger.Info("forwarder started", "poll_interval", f.pollInterval, "max_wait", f.maxWait)
}

// Stop gracefully stops the forwarder
func (f *Forwarder) Stop() {
	f.cancel()
	f.wg.Wait()
	f.logger.Info("forwarder stopped")
}

func (f *Forwarder) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.Poll(f.ctx)
		}
	}
}

// Poll forwards every record that is ready and returns how many were
// handed off.
func (f *Forwarder) Poll(ctx context.Context) int {
	records, err := f.store.List(ctx)
	if err != nil {
		f.logger.Error("failed to list results", "error", err)
		return 0
	}

	var forwarded int
	for _, rec := range records {
		if !f.ready(rec) {
			continue
		}
		if f.forward(ctx, rec) {
			forwarded++
		}
	}
	return forwarded
}

func (f *Forwarder) ready(rec *correlation.Record) bool {
	overdue := f.now().Sub(rec.CreatedAt) >= f.maxWait
	switch {
	case rec.Transaction == "":
		// results landed for a request this instance never began
		return overdue
	case rec.Complete():
		return true
	default:
		return overdue && len(rec.Pending()) > 0
	}
}

func (f *Forwarder) forward(ctx context.Context, rec *correlation.Record) bool {
	pending := rec.Pending()
	log := f.logger.With(
		"request_id", rec.RequestID,
		"transaction", rec.Transaction,
		"results", len(rec.Results),
		"pending", len(pending),
		"expected", rec.Expected,
	)

	if rec.Transaction == "" {
		log.Warn("dropping results of unknown request")
		f.delete(ctx, rec.RequestID, log)
		return false
	}
	if len(pending) == 0 {
		// complete, and every result went out with earlier batches
		f.delete(ctx, rec.RequestID, log)
		return false
	}

	err := f.poster.PostResults(ctx, rec.Transaction, api.ResultBatch{
		RequestID: rec.RequestID,
		PatientID: rec.PatientID,
		CxID:      rec.CxID,
		Results:   pending,
	})
	if err != nil {
		log.Error("failed to forward results", "error", err)
		return false
	}

	if rec.Complete() {
		f.delete(ctx, rec.RequestID, log)
		log.Info("results forwarded")
		return true
	}

	log.Warn("forwarded incomplete results", "age", f.now().Sub(rec.CreatedAt))
	marked := *rec
	marked.Forwarded = len(rec.Results)
	if err := f.store.Begin(ctx, marked); err != nil {
		log.Error("failed to record forwarded results", "error", err)
	}
	return true
}

func (f *Forwarder) delete(ctx context.Context, id string, log *slog.Logger) {
	if err := f.store.Delete(ctx, id); err != nil {
		log.Error("failed to delete forwarded results", "error", err)
	}
}
