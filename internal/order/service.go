// Package order реализует жизненный цикл заказа: создание, смену статусов
// и отметку об оплате.
package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/delivery"
	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/repository"
	"github.com/baganov/pizzanat-system/internal/validation"
)

// ErrInvalidStatus возвращается, если имя статуса не входит в перечень допустимых.
var (
	ErrInvalidStatus = errors.New("unknown order status")
	// ErrNotFound возвращается, если заказ не существует.
	ErrNotFound = errors.New("order not found")
	// ErrConflict возвращается при недопустимом переходе между статусами.
	ErrConflict = errors.New("conflicting order state")
	// ErrAlreadyPaid возвращается при попытке повторно отметить заказ оплаченным.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrEmptyOrder возвращается, если заказ не содержит ни одной позиции.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidPhone возвращается для контактного телефона неподдерживаемого формата.
	ErrInvalidPhone = errors.New("invalid contact phone")
	// ErrDeliveryUnavailable возвращается, если доставка по адресу невозможна.
	ErrDeliveryUnavailable = errors.New("delivery unavailable for address")
)

// Store описывает операции хранилища, нужные жизненному циклу заказа.
type Store interface {
	CreateOrder(ctx context.Context, order *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	TransitionOrder(ctx context.Context, orderID int64, target model.OrderStatus) (*model.Order, bool, error)
	MarkOrderPaid(ctx context.Context, orderID int64) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Calculator рассчитывает стоимость доставки для адреса.
type Calculator interface {
	Calculate(ctx context.Context, address string, orderAmount int64) (*delivery.CalculationResult, error)
}

// Notifier рассылает уведомления о событиях заказа.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, order *model.Order)
	NotifyStatusChanged(ctx context.Context, order *model.Order, userTelegramID *int64)
	NotifyOrderPaid(ctx context.Context, order *model.Order)
}

// ReferralScheduler планирует отложенное напоминание о реферальной программе.
type ReferralScheduler interface {
	ScheduleReferralReminder(ctx context.Context, order *model.Order, telegramID int64) error
}

// Service реализует операции над заказами.
type Service struct {
	store      Store
	calculator Calculator
	notifier   Notifier
	referrals  ReferralScheduler
	logger     *zap.Logger
}

// NewService создаёт сервис заказов.
func NewService(store Store, calculator Calculator, notifier Notifier, referrals ReferralScheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		calculator: calculator,
		notifier:   notifier,
		referrals:  referrals,
		logger:     logger,
	}
}

// CreateParams описывает данные нового заказа.
type CreateParams struct {
	UserID          *int64
	Items           []model.OrderItem
	Method          model.PaymentMethod
	DeliveryAddress string
	ContactName     string
	ContactPhone    string
	Comment         string
}

// Create создаёт заказ: рассчитывает стоимость доставки по адресу,
// сохраняет заказ и уведомляет администраторов.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Order, error) {
	if len(params.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	if !validation.IsValidPhone(params.ContactPhone) {
		return nil, ErrInvalidPhone
	}
	phone := validation.NormalizePhone(params.ContactPhone)

	var itemsAmount int64
	for _, item := range params.Items {
		if item.Quantity <= 0 || item.Price < 0 {
			return nil, fmt.Errorf("%w: invalid item %q", ErrEmptyOrder, item.ProductName)
		}
		itemsAmount += item.Price * int64(item.Quantity)
	}

	var deliveryCost int64
	if params.DeliveryAddress != "" {
		calc, err := s.calculator.Calculate(ctx, params.DeliveryAddress, itemsAmount)
		if err != nil {
			return nil, fmt.Errorf("calculate delivery: %w", err)
		}
		if !calc.DeliveryAvailable {
			return nil, fmt.Errorf("%w: %s", ErrDeliveryUnavailable, calc.Reason)
		}
		deliveryCost = calc.DeliveryCost
	}

	order := &model.Order{
		UserID:          params.UserID,
		Status:          model.OrderStatusCreated,
		PaymentStatus:   model.OrderPaymentUnpaid,
		Method:          params.Method,
		ItemsAmount:     itemsAmount,
		DeliveryCost:    deliveryCost,
		TotalAmount:     itemsAmount + deliveryCost,
		DeliveryAddress: params.DeliveryAddress,
		ContactName:     params.ContactName,
		ContactPhone:    phone,
		Comment:         params.Comment,
		Items:           params.Items,
	}

	id, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id
	for i := range order.Items {
		order.Items[i].OrderID = id
	}

	s.logger.Info("order created",
		zap.Int64("order_id", id),
		zap.Int64("total_amount", order.TotalAmount),
		zap.String("method", string(order.Method)),
		zap.String("phone", validation.MaskPhone(order.ContactPhone)))

	s.notifier.NotifyOrderCreated(ctx, order)

	return order, nil
}

// Transition переводит заказ в статус с указанным именем.
// Переход в текущий статус идемпотентен: заказ возвращается без изменений
// и без побочных эффектов. Уведомления отправляются best effort и не влияют
// на результат перехода.
func (s *Service) Transition(ctx context.Context, orderID int64, statusName string) (*model.Order, error) {
	target, ok := model.ParseOrderStatus(statusName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, statusName)
	}

	order, changed, err := s.store.TransitionOrder(ctx, orderID, target)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return nil, fmt.Errorf("transition order: %w", err)
	}

	if !changed {
		return order, nil
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)))

	telegramID := s.userTelegramID(ctx, order)
	s.notifier.NotifyStatusChanged(ctx, order, telegramID)

	if order.Status == model.OrderStatusDelivered && telegramID != nil {
		if err := s.referrals.ScheduleReferralReminder(ctx, order, *telegramID); err != nil {
			s.logger.Warn("schedule referral reminder failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	return order, nil
}

// MarkPaid отмечает заказ оплаченным и уведомляет администраторов.
// Повторная отметка — конфликт.
func (s *Service) MarkPaid(ctx context.Context, orderID int64) (*model.Order, error) {
	err := s.store.MarkOrderPaid(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrOrderAlreadyPaid):
			return nil, ErrAlreadyPaid
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	s.logger.Info("order paid",
		zap.Int64("order_id", order.ID),
		zap.String("method", string(order.Method)))

	s.notifier.NotifyOrderPaid(ctx, order)

	return order, nil
}

// Get возвращает заказ с позициями.
func (s *Service) Get(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	orders, err := s.store.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *Service) userTelegramID(ctx context.Context, order *model.Order) *int64 {
	if order.UserID == nil {
		return nil
	}

	user, err := s.store.GetUserByID(ctx, *order.UserID)
	if err != nil {
		s.logger.Warn("get user for notification failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return nil
	}

	return user.TelegramID
}
