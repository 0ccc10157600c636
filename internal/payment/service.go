// Package payment отвечает за создание платежей в шлюзе и синхронизацию
// их статусов с заказами.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/gateway"
	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/order"
	"github.com/baganov/pizzanat-system/internal/repository"
)

// ErrNotFound возвращается, если платёж не существует.
var (
	ErrNotFound = errors.New("payment not found")
	// ErrOrderNotFound возвращается, если заказ платежа не существует.
	ErrOrderNotFound = errors.New("order not found")
	// ErrMethodNotOnline возвращается при попытке создать платёж для заказа
	// со способом оплаты, не проходящим через шлюз.
	ErrMethodNotOnline = errors.New("payment method is not online")
)

// Store описывает операции хранилища, нужные платёжному сервису.
type Store interface {
	CreatePayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	GetPaymentByGatewayID(ctx context.Context, gatewayID string) (*model.Payment, error)
	GetLatestPaymentForOrder(ctx context.Context, orderID int64) (*model.Payment, error)
	GetPaymentsForPolling(ctx context.Context, cutoff time.Time) ([]model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status model.PaymentStatus, errorMessage *string) (bool, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	SetOrderPaymentStatus(ctx context.Context, orderID int64, status model.OrderPaymentStatus) error
}

// Gateway описывает операции платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, params gateway.CreatePaymentParams) (*gateway.PaymentInfo, error)
	GetPayment(ctx context.Context, gatewayID string) (*gateway.PaymentInfo, error)
	CancelPayment(ctx context.Context, gatewayID string) (*gateway.PaymentInfo, error)
}

// OrderMarker отмечает заказ оплаченным.
type OrderMarker interface {
	MarkPaid(ctx context.Context, orderID int64) (*model.Order, error)
}

// Alerter уведомляет администраторов о неуспешных платежах.
type Alerter interface {
	AlertPaymentFailed(ctx context.Context, order *model.Order, status model.PaymentStatus, reason string)
}

// Service создаёт платежи и применяет их статусы из шлюза.
// Статусы применяются одинаково независимо от источника: вебхук и фоновый
// опрос проходят через один и тот же код.
type Service struct {
	store     Store
	gateway   Gateway
	orders    OrderMarker
	alerter   Alerter
	returnURL string
	logger    *zap.Logger
}

// NewService создаёт платёжный сервис. returnURL — базовый адрес приложения,
// на который шлюз возвращает пользователя после оплаты.
func NewService(store Store, gw Gateway, orders OrderMarker, alerter Alerter, returnURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		gateway:   gw,
		orders:    orders,
		alerter:   alerter,
		returnURL: returnURL,
		logger:    logger,
	}
}

// CreateForOrder создаёт платёж в шлюзе для заказа с онлайн-способом оплаты
// и сохраняет локальную запись о нём.
func (s *Service) CreateForOrder(ctx context.Context, orderID int64) (*model.Payment, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if !order.Method.IsOnline() {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotOnline, order.Method)
	}

	// Незавершённый платёж по заказу переиспользуется: повторный запрос оплаты
	// не создаёт второй платёж в шлюзе.
	if existing, err := s.store.GetLatestPaymentForOrder(ctx, order.ID); err == nil && !existing.Status.IsTerminal() {
		return existing, nil
	} else if err != nil && !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, fmt.Errorf("get latest payment: %w", err)
	}

	info, err := s.gateway.CreatePayment(ctx, gateway.CreatePaymentParams{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Method:      order.Method,
		Description: fmt.Sprintf("Оплата заказа №%d", order.ID),
		ReturnURL:   fmt.Sprintf("%s/orders/%d", s.returnURL, order.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway payment: %w", err)
	}

	p := &model.Payment{
		OrderID:          order.ID,
		GatewayPaymentID: info.ID,
		Status:           info.Status,
		Method:           order.Method,
		Amount:           order.TotalAmount,
		Currency:         "RUB",
		ConfirmationURL:  info.ConfirmationURL,
	}

	id, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	p.ID = id

	if err := s.store.SetOrderPaymentStatus(ctx, order.ID, model.OrderPaymentPending); err != nil {
		s.logger.Warn("set order payment status failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	s.logger.Info("payment created",
		zap.Int64("payment_id", id),
		zap.Int64("order_id", order.ID),
		zap.String("gateway_payment_id", info.ID))

	return p, nil
}

// Get возвращает платёж по идентификатору.
func (s *Service) Get(ctx context.Context, paymentID int64) (*model.Payment, error) {
	p, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// ApplyWebhook применяет статус платежа, присланный шлюзом в вебхуке.
func (s *Service) ApplyWebhook(ctx context.Context, gatewayPaymentID string, status model.PaymentStatus, reason string) error {
	p, err := s.store.GetPaymentByGatewayID(ctx, gatewayPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get payment: %w", err)
	}

	return s.applyStatus(ctx, p, status, reason)
}

// CancelForOrder отменяет в шлюзе незавершённый платёж заказа.
// Отсутствие платежа или уже терминальный статус — штатная ситуация.
func (s *Service) CancelForOrder(ctx context.Context, orderID int64) error {
	p, err := s.store.GetLatestPaymentForOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil
		}
		return fmt.Errorf("get latest payment: %w", err)
	}
	if p.Status.IsTerminal() {
		return nil
	}

	info, err := s.gateway.CancelPayment(ctx, p.GatewayPaymentID)
	if err != nil {
		return fmt.Errorf("cancel gateway payment: %w", err)
	}

	return s.applyStatus(ctx, p, info.Status, info.CancellationReason)
}

// ForcePoll немедленно опрашивает шлюз по одному платежу и применяет результат.
func (s *Service) ForcePoll(ctx context.Context, paymentID int64) error {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	info, err := s.gateway.GetPayment(ctx, p.GatewayPaymentID)
	if err != nil {
		return fmt.Errorf("poll gateway: %w", err)
	}

	return s.applyStatus(ctx, p, info.Status, info.CancellationReason)
}

// applyStatus переводит платёж в новый статус и синхронизирует заказ.
// Повторное применение терминального статуса безвредно: запись не меняется,
// а конфликт «заказ уже оплачен» трактуется как сходимость, не как ошибка.
func (s *Service) applyStatus(ctx context.Context, p *model.Payment, status model.PaymentStatus, reason string) error {
	var errorMessage *string
	if reason != "" && status != model.PaymentStatusSucceeded {
		errorMessage = &reason
	}

	changed, err := s.store.UpdatePaymentStatus(ctx, p.ID, status, errorMessage)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	switch {
	case changed:
		s.logger.Info("payment status applied",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", p.OrderID),
			zap.String("status", string(status)))
	case status == model.PaymentStatusSucceeded && p.Status == model.PaymentStatusSucceeded:
		// Повторная доставка SUCCEEDED: запись уже терминальна, но заказ мог
		// остаться неоплаченным после сбоя отметки. Синхронизация заказа ниже
		// выполняется всё равно, MarkPaid идемпотентен.
		s.logger.Debug("succeeded status redelivered",
			zap.Int64("payment_id", p.ID),
			zap.Int64("order_id", p.OrderID))
	default:
		s.logger.Debug("payment already terminal",
			zap.Int64("payment_id", p.ID),
			zap.String("status", string(status)))
		return nil
	}

	switch status {
	case model.PaymentStatusSucceeded:
		if _, err := s.orders.MarkPaid(ctx, p.OrderID); err != nil && !isAlreadyPaid(err) {
			return fmt.Errorf("mark order paid: %w", err)
		}
	case model.PaymentStatusCancelled, model.PaymentStatusFailed:
		orderPaymentStatus := model.OrderPaymentCancelled
		if status == model.PaymentStatusFailed {
			orderPaymentStatus = model.OrderPaymentFailed
		}
		if err := s.store.SetOrderPaymentStatus(ctx, p.OrderID, orderPaymentStatus); err != nil {
			s.logger.Warn("set order payment status failed",
				zap.Int64("order_id", p.OrderID),
				zap.Error(err))
		}

		order, err := s.store.GetOrderByID(ctx, p.OrderID)
		if err != nil {
			s.logger.Warn("get order for alert failed",
				zap.Int64("order_id", p.OrderID),
				zap.Error(err))
			return nil
		}
		s.alerter.AlertPaymentFailed(ctx, order, status, reason)
	}

	return nil
}

func isAlreadyPaid(err error) bool {
	return errors.Is(err, order.ErrAlreadyPaid) || errors.Is(err, repository.ErrOrderAlreadyPaid)
}
