package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/smsdesk/smsdesk/internal/bus"
	"github.com/smsdesk/smsdesk/internal/provider"
	"github.com/smsdesk/smsdesk/internal/status"
	"go.uber.org/zap"
)

// DefaultPullLimit is used when a caller passes limit <= 0.
const DefaultPullLimit = 50

// checkpointLastPull records when the last successful pull finished.
const checkpointLastPull = "last_pull_at"

// Lister is the provider surface a pull-sync needs.
type Lister interface {
	ListMessages(ctx context.Context, direction provider.Direction, limit int) ([]provider.Message, error)
}

// Runner drives periodic pull-syncs against the provider and keeps the
// status machine informed.
type Runner struct {
	reconciler *Reconciler
	client     Lister
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	interval   time.Duration
	pageSize   int
	cancel     context.CancelFunc
}

// NewRunner creates a pull-sync runner. interval <= 0 disables the
// periodic loop; RunOnce still works for manual triggers. pageSize is
// how many messages per direction each scheduled pull requests;
// <= 0 falls back to DefaultPullLimit.
func NewRunner(rec *Reconciler, client Lister, machine *status.Machine, b *bus.Bus, interval time.Duration, pageSize int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPullLimit
	}
	return &Runner{
		reconciler: rec,
		client:     client,
		machine:    machine,
		bus:        b,
		logger:     logger,
		interval:   interval,
		pageSize:   pageSize,
	}
}

// Start begins the periodic sync loop.
func (r *Runner) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Stop stops the periodic loop.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx, r.pageSize); err != nil {
				r.logger.Warn("scheduled sync failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce pulls the most recent inbound and outbound messages from the
// provider and reconciles them. A failure fetching one direction is
// recorded in the result and the other direction still proceeds; the
// returned error is non-nil only when nothing could be fetched at all.
func (r *Runner) RunOnce(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	r.transition(status.Syncing)

	var res Result
	fetched := 0
	for _, dir := range []provider.Direction{provider.DirectionInbound, provider.DirectionOutbound} {
		msgs, err := r.client.ListMessages(ctx, dir, limit)
		if err != nil {
			r.logger.Warn("provider list failed", zap.String("direction", string(dir)), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("list %s: %v", dir, err))
			continue
		}
		fetched++
		items := make([]Item, len(msgs))
		for i, m := range msgs {
			items[i] = Item{Message: m}
		}
		part := r.reconciler.IngestBatch(items)
		res.Checked += part.Checked
		res.Imported += part.Imported
		res.Errors = append(res.Errors, part.Errors...)
	}

	if fetched == 0 {
		r.transition(status.Degraded)
		if r.bus != nil {
			r.bus.Publish(bus.Event{Kind: "sync.failed", Timestamp: time.Now(), Payload: res})
		}
		return res, fmt.Errorf("pull-sync: provider unreachable: %v", res.Errors)
	}

	if err := r.reconciler.UpdateCheckpoint(checkpointLastPull, time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("checkpoint update failed", zap.Error(err))
	}

	r.transition(status.Idle)
	if r.bus != nil {
		r.bus.Publish(bus.Event{Kind: "sync.completed", Timestamp: time.Now(), Payload: res})
	}
	r.logger.Info("pull-sync finished",
		zap.Int("checked", res.Checked),
		zap.Int("imported", res.Imported),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (r *Runner) transition(to status.State) {
	if r.machine == nil {
		return
	}
	if err := r.machine.Transition(to); err != nil {
		r.logger.Debug("status transition skipped", zap.Error(err))
	}
}
