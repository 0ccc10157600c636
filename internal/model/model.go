// Package model содержит доменные сущности пиццерии: заказы, платежи и зоны доставки.
package model

import (
	"strings"
	"time"
)

// User представляет зарегистрированного пользователя.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Phone        string
	TelegramID   *int64
	CreatedAt    time.Time
}

// OrderStatus описывает статус доставки заказа.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusPreparing  OrderStatus = "PREPARING"
	OrderStatusReady      OrderStatus = "READY"
	OrderStatusDelivering OrderStatus = "DELIVERING"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// AllOrderStatuses перечисляет допустимые статусы заказа в порядке жизненного цикла.
var AllOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDelivering,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// orderTransitions задаёт допустимые переходы между статусами заказа.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:  {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:      {OrderStatusDelivering, OrderStatusCancelled},
	OrderStatusDelivering: {OrderStatusDelivered, OrderStatusCancelled},
}

// ParseOrderStatus разбирает название статуса без учёта регистра.
func ParseOrderStatus(name string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(name)))
	for _, known := range AllOrderStatuses {
		if s == known {
			return known, true
		}
	}
	return "", false
}

// CanTransition проверяет, допустим ли переход заказа из статуса from в статус to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true для статусов, из которых нет дальнейших переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Description возвращает описание статуса на русском языке.
func (s OrderStatus) Description() string {
	switch s {
	case OrderStatusCreated:
		return "Создан"
	case OrderStatusConfirmed:
		return "Подтверждён"
	case OrderStatusPreparing:
		return "Готовится"
	case OrderStatusReady:
		return "Готов"
	case OrderStatusDelivering:
		return "В пути"
	case OrderStatusDelivered:
		return "Доставлен"
	case OrderStatusCancelled:
		return "Отменён"
	}
	return string(s)
}

// OrderPaymentStatus описывает статус оплаты заказа. Ось, независимая от статуса доставки.
type OrderPaymentStatus string

const (
	OrderPaymentUnpaid    OrderPaymentStatus = "UNPAID"
	OrderPaymentPending   OrderPaymentStatus = "PENDING"
	OrderPaymentPaid      OrderPaymentStatus = "PAID"
	OrderPaymentCancelled OrderPaymentStatus = "CANCELLED"
	OrderPaymentFailed    OrderPaymentStatus = "FAILED"
)

// Order описывает заказ пользователя.
type Order struct {
	ID              int64
	UserID          *int64
	Status          OrderStatus
	PaymentStatus   OrderPaymentStatus
	Method          PaymentMethod
	ItemsAmount     int64 // сумма позиций в копейках
	DeliveryCost    int64 // стоимость доставки в копейках
	TotalAmount     int64 // итоговая сумма в копейках
	DeliveryAddress string
	ContactName     string
	ContactPhone    string
	Comment         string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem описывает позицию заказа.
type OrderItem struct {
	ID          int64
	OrderID     int64
	ProductName string
	Quantity    int
	Price       int64 // цена за единицу в копейках
}

// PaymentStatus описывает статус платежа в терминах платёжного шлюза.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusWaitingForCapture PaymentStatus = "WAITING_FOR_CAPTURE"
	PaymentStatusSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
)

// PaymentStatusFromGateway преобразует статус из API шлюза во внутренний.
func PaymentStatusFromGateway(s string) (PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return PaymentStatusPending, true
	case "waiting_for_capture":
		return PaymentStatusWaitingForCapture, true
	case "succeeded":
		return PaymentStatusSucceeded, true
	case "canceled", "cancelled":
		return PaymentStatusCancelled, true
	case "failed":
		return PaymentStatusFailed, true
	}
	return "", false
}

// IsTerminal возвращает true, если платёж завершён и больше не меняется.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusCancelled || s == PaymentStatusFailed
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodSBP      PaymentMethod = "SBP"
	PaymentMethodBankCard PaymentMethod = "BANK_CARD"
	PaymentMethodYooMoney PaymentMethod = "YOOMONEY"
)

// IsOnline возвращает true для способов оплаты, проходящих через платёжный шлюз.
func (m PaymentMethod) IsOnline() bool {
	return m == PaymentMethodSBP || m == PaymentMethodBankCard || m == PaymentMethodYooMoney
}

// GatewayMethod возвращает способ оплаты в формате API шлюза.
func (m PaymentMethod) GatewayMethod() string {
	switch m {
	case PaymentMethodSBP:
		return "sbp"
	case PaymentMethodBankCard:
		return "bank_card"
	case PaymentMethodYooMoney:
		return "yoo_money"
	}
	return ""
}

// PaidLabel возвращает пометку о способе оплаты для уведомлений администраторам.
// Пустой способ оплаты трактуется как наличные. Поведение унаследовано от
// действующей системы и требует подтверждения у продукта.
func (m PaymentMethod) PaidLabel() string {
	switch m {
	case PaymentMethodSBP:
		return "ОПЛАЧЕН СБП"
	case PaymentMethodBankCard:
		return "ОПЛАЧЕН КАРТОЙ"
	case PaymentMethodCash, "":
		return "НАЛИЧНЫМИ"
	}
	return "ОПЛАЧЕН ОНЛАЙН"
}

// Payment описывает попытку оплаты заказа. Заказ может иметь несколько платежей,
// актуальным считается последний созданный.
type Payment struct {
	ID               int64
	OrderID          int64
	GatewayPaymentID string
	Status           PaymentStatus
	Method           PaymentMethod
	Amount           int64 // сумма в копейках
	Currency         string
	ConfirmationURL  string
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

// ZoneMatchType задаёт способ сопоставления ключевого слова с адресом.
type ZoneMatchType string

const (
	ZoneMatchContains   ZoneMatchType = "contains"
	ZoneMatchStartsWith ZoneMatchType = "starts_with"
	ZoneMatchExact      ZoneMatchType = "exact"
)

// DeliveryZone описывает зону доставки с тарифом и правилами сопоставления адресов.
type DeliveryZone struct {
	ID                    int64
	Name                  string
	Description           string
	BaseCost              int64  // базовая стоимость доставки в копейках
	FreeDeliveryThreshold *int64 // порог бесплатной доставки в копейках, nil — без порога
	DeliveryTimeMin       int
	DeliveryTimeMax       int
	IsActive              bool
	Priority              int
	Streets               []DeliveryZoneStreet
	Keywords              []DeliveryZoneKeyword
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsDeliveryFree проверяет, достигнут ли порог бесплатной доставки. Порог включительный.
func (z *DeliveryZone) IsDeliveryFree(orderAmount int64) bool {
	return z.FreeDeliveryThreshold != nil && orderAmount >= *z.FreeDeliveryThreshold
}

// FinalDeliveryCost возвращает итоговую стоимость доставки с учётом суммы заказа.
func (z *DeliveryZone) FinalDeliveryCost(orderAmount int64) int64 {
	if z.IsDeliveryFree(orderAmount) {
		return 0
	}
	return z.BaseCost
}

// DeliveryZoneStreet — правило сопоставления адреса по названию улицы.
type DeliveryZoneStreet struct {
	ID         int64
	ZoneID     int64
	StreetName string
}

// DeliveryZoneKeyword — правило сопоставления адреса по ключевому слову.
type DeliveryZoneKeyword struct {
	ID        int64
	ZoneID    int64
	Keyword   string
	MatchType ZoneMatchType
}

// NotificationType задаёт тип отложенного уведомления.
type NotificationType string

const (
	NotificationReferralReminder NotificationType = "REFERRAL_REMINDER"
	NotificationOrderFeedback    NotificationType = "ORDER_FEEDBACK"
)

// NotificationStatus описывает состояние отложенного уведомления.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusSent      NotificationStatus = "SENT"
	NotificationStatusFailed    NotificationStatus = "FAILED"
	NotificationStatusCancelled NotificationStatus = "CANCELLED"
)

// ScheduledNotification описывает отложенное уведомление пользователю.
// Для пары (заказ, тип) существует не более одной записи.
type ScheduledNotification struct {
	ID           int64
	OrderID      int64
	TelegramID   int64
	Type         NotificationType
	Message      string
	ScheduledAt  time.Time
	SentAt       *time.Time
	Status       NotificationStatus
	RetryCount   int
	MaxRetries   int
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanRetry проверяет, можно ли повторить отправку неудавшегося уведомления.
func (n *ScheduledNotification) CanRetry() bool {
	return n.Status == NotificationStatusFailed && n.RetryCount < n.MaxRetries
}
