package payment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconciler периодически сверяет незавершённые платежи со шлюзом.
// Платежи старше окна считаются брошенными и не опрашиваются.
type Reconciler struct {
	service  *Service
	interval time.Duration
	window   time.Duration
	workers  int
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler создаёт сверку платежей. workers ограничивает число
// одновременных запросов к шлюзу в рамках одного прохода.
func NewReconciler(service *Service, interval, window time.Duration, workers int, logger *zap.Logger) *Reconciler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		service:  service,
		interval: interval,
		window:   window,
		workers:  workers,
		logger:   logger,
		now:      time.Now,
	}
}

// Run запускает цикл сверки и блокируется до отмены контекста.
// Каждый проход выполняется в своей горутине: затянувшаяся партия не
// сдвигает следующий тик. Перекрытие проходов безопасно, применение
// статуса идемпотентно.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.pollOnce(ctx)
			}()
		}
	}
}

// pollOnce опрашивает все незавершённые платежи в пределах окна.
// Сбой по одному платежу изолирован и не прерывает проход: остальные
// платежи опрашиваются независимо.
func (r *Reconciler) pollOnce(ctx context.Context) {
	cutoff := r.now().Add(-r.window)

	candidates, err := r.service.store.GetPaymentsForPolling(ctx, cutoff)
	if err != nil {
		r.logger.Error("select payments for polling failed", zap.Error(err))
		return
	}

	if len(candidates) == 0 {
		return
	}

	r.logger.Debug("polling payments", zap.Int("count", len(candidates)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, p := range candidates {
		p := p
		g.Go(func() error {
			if err := r.pollPayment(gctx, p.ID, p.GatewayPaymentID); err != nil {
				r.logger.Warn("payment poll failed",
					zap.Int64("payment_id", p.ID),
					zap.String("gateway_payment_id", p.GatewayPaymentID),
					zap.Error(err))
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (r *Reconciler) pollPayment(ctx context.Context, paymentID int64, gatewayID string) error {
	p, err := r.service.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	info, err := r.service.gateway.GetPayment(ctx, gatewayID)
	if err != nil {
		return err
	}

	return r.service.applyStatus(ctx, p, info.Status, info.CancellationReason)
}
