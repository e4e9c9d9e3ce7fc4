package orders

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RecoveryPoller finishes work a request could not complete:
// cancels whose stock restore failed, and restores queued by a checkout whose order write failed.
type RecoveryPoller struct {
	repo  Repository
	sm    *StateMachine
	stock Restorer
	log   *zap.Logger

	tick  time.Duration
	lease time.Duration
	batch int
	now   func() time.Time
}

// NewRecoveryPoller polls every tick. A claimed cancel is picked up once it is older than lease,
// which leaves the request that claimed it time to finish on its own.
func NewRecoveryPoller(repo Repository, sm *StateMachine, stock Restorer, log *zap.Logger, tick, lease time.Duration) *RecoveryPoller {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecoveryPoller{
		repo:  repo,
		sm:    sm,
		stock: stock,
		log:   log.Named("recovery"),
		tick:  tick,
		lease: lease,
		batch: 100,
		now:   time.Now,
	}
}

func (p *RecoveryPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.RecoverOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *RecoveryPoller) RecoverOnce(ctx context.Context) {
	p.finishCancellations(ctx)
	p.retryRestores(ctx)
}

func (p *RecoveryPoller) finishCancellations(ctx context.Context) {
	orders, err := p.repo.PendingCancellations(ctx, p.now().Add(-p.lease), p.batch)
	if err != nil {
		p.log.Error("failed to fetch pending cancellations", zap.Error(err))
		return
	}

	for _, order := range orders {
		if _, err := p.sm.Resume(ctx, order); err != nil {
			p.log.Warn("pending cancellation still incomplete", zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		p.log.Info("pending cancellation recovered", zap.String("order_id", order.ID.String()))
	}
}

func (p *RecoveryPoller) retryRestores(ctx context.Context) {
	pending, err := p.repo.PendingRestores(ctx, p.batch)
	if err != nil {
		p.log.Error("failed to fetch pending restores", zap.Error(err))
		return
	}

	for _, r := range pending {
		if err := p.stock.Restore(ctx, r.Key, r.Lines); err != nil {
			p.log.Warn("queued restore failed", zap.String("key", r.Key), zap.Int("attempts", r.Attempts+1), zap.Error(err))
			if errRecord := p.repo.RecordRestoreFailure(ctx, r.Key, err.Error()); errRecord != nil {
				p.log.Error("failed to record restore failure", zap.String("key", r.Key), zap.Error(errRecord))
			}
			continue
		}
		if err := p.repo.CompleteRestore(ctx, r.Key); err != nil {
			// restore is idempotent per key, the next tick just completes it again
			p.log.Error("failed to complete queued restore", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		p.log.Info("queued restore recovered", zap.String("key", r.Key))
	}
}
