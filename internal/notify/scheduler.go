package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/model"
)

// NotificationStore хранит отложенные уведомления.
type NotificationStore interface {
	ScheduleNotification(ctx context.Context, n *model.ScheduledNotification) (bool, error)
	GetDueNotifications(ctx context.Context, now time.Time) ([]model.ScheduledNotification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, errorMessage string) error
}

const defaultMaxRetries = 3

// Scheduler планирует отложенные уведомления и периодически отправляет созревшие.
type Scheduler struct {
	store         NotificationStore
	sender        MessageSender
	logger        *zap.Logger
	drainInterval time.Duration
	referralDelay time.Duration
	now           func() time.Time
}

// NewScheduler создаёт планировщик отложенных уведомлений.
func NewScheduler(store NotificationStore, sender MessageSender, drainInterval, referralDelay time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		sender:        sender,
		logger:        logger,
		drainInterval: drainInterval,
		referralDelay: referralDelay,
		now:           time.Now,
	}
}

// ScheduleReferralReminder планирует напоминание о реферальной программе
// через referralDelay после доставки заказа. Для каждого заказа напоминание
// планируется не более одного раза.
func (s *Scheduler) ScheduleReferralReminder(ctx context.Context, order *model.Order, telegramID int64) error {
	message := fmt.Sprintf(
		"Спасибо за заказ №%d! 🍕\nПриглашайте друзей и получайте бонусы на следующие заказы.",
		order.ID,
	)

	inserted, err := s.store.ScheduleNotification(ctx, &model.ScheduledNotification{
		OrderID:     order.ID,
		TelegramID:  telegramID,
		Type:        model.NotificationReferralReminder,
		Message:     message,
		ScheduledAt: s.now().Add(s.referralDelay),
		MaxRetries:  defaultMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("schedule referral reminder: %w", err)
	}

	if !inserted {
		s.logger.Debug("referral reminder already scheduled", zap.Int64("order_id", order.ID))
	}

	return nil
}

// Run запускает цикл отправки созревших уведомлений и блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain отправляет все созревшие уведомления. Сбой отправки одного уведомления
// не останавливает обработку остальных.
func (s *Scheduler) drain(ctx context.Context) {
	due, err := s.store.GetDueNotifications(ctx, s.now())
	if err != nil {
		s.logger.Error("get due notifications failed", zap.Error(err))
		return
	}

	for _, n := range due {
		if err := s.sender.Send(ctx, n.TelegramID, n.Message); err != nil {
			s.logger.Warn("scheduled notification send failed",
				zap.Int64("notification_id", n.ID),
				zap.Int64("order_id", n.OrderID),
				zap.Int("retry_count", n.RetryCount),
				zap.Error(err))

			if markErr := s.store.MarkNotificationFailed(ctx, n.ID, err.Error()); markErr != nil {
				s.logger.Error("mark notification failed", zap.Int64("notification_id", n.ID), zap.Error(markErr))
			}

			n.Status = model.NotificationStatusFailed
			n.RetryCount++
			if !n.CanRetry() {
				s.logger.Error("notification retries exhausted",
					zap.Int64("notification_id", n.ID),
					zap.Int64("order_id", n.OrderID))
			}
			continue
		}

		if err := s.store.MarkNotificationSent(ctx, n.ID); err != nil {
			s.logger.Error("mark notification sent", zap.Int64("notification_id", n.ID), zap.Error(err))
		}
	}
}
