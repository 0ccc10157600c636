// Package notify формирует и доставляет уведомления о событиях заказов
// пользователям и администраторам.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/model"
)

// MessageSender отправляет текстовое сообщение в чат.
type MessageSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Dispatcher рассылает уведомления о событиях заказов. Доставка выполняется
// по принципу best effort: сбой отправки логируется и не влияет на исход
// операции, породившей событие.
type Dispatcher struct {
	sender              MessageSender
	adminChatIDs        []int64
	limiter             AlertLimiter
	highAmountThreshold int64 // порог крупного заказа в копейках, 0 отключает алерт
	logger              *zap.Logger
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(sender MessageSender, adminChatIDs []int64, limiter AlertLimiter, highAmountThreshold int64, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:              sender,
		adminChatIDs:        adminChatIDs,
		limiter:             limiter,
		highAmountThreshold: highAmountThreshold,
		logger:              logger,
	}
}

// NotifyOrderCreated уведомляет администраторов о новом заказе.
// Для заказов выше порога дополнительно отправляется алерт о крупной сумме.
func (d *Dispatcher) NotifyOrderCreated(ctx context.Context, order *model.Order) {
	d.sendToAdmins(ctx, d.formatNewOrder(order))

	if d.highAmountThreshold > 0 && order.TotalAmount >= d.highAmountThreshold {
		d.alert(ctx, fmt.Sprintf("high_amount:%d", order.ID),
			fmt.Sprintf("⚠️ <b>Крупный заказ №%d</b>\nСумма: %s", order.ID, formatMoney(order.TotalAmount)))
	}
}

// NotifyStatusChanged уведомляет пользователя и администраторов о смене статуса заказа.
// userTelegramID равен nil, если пользователь не привязал Telegram.
func (d *Dispatcher) NotifyStatusChanged(ctx context.Context, order *model.Order, userTelegramID *int64) {
	if userTelegramID != nil {
		text := fmt.Sprintf("Заказ №%d: %s", order.ID, order.Status.Description())
		if err := d.sender.Send(ctx, *userTelegramID, text); err != nil {
			d.logger.Warn("user notification failed",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	d.sendToAdmins(ctx, fmt.Sprintf("Заказ №%d переведён в статус: <b>%s</b>", order.ID, order.Status.Description()))
}

// NotifyOrderPaid уведомляет администраторов об успешной оплате заказа.
func (d *Dispatcher) NotifyOrderPaid(ctx context.Context, order *model.Order) {
	d.sendToAdmins(ctx, fmt.Sprintf("✅ Заказ №%d %s\nСумма: %s",
		order.ID, order.Method.PaidLabel(), formatMoney(order.TotalAmount)))
}

// AlertPaymentFailed отправляет администраторам алерт о неуспешном платеже.
// Повторные алерты по одному заказу подавляются в пределах окна лимитера.
func (d *Dispatcher) AlertPaymentFailed(ctx context.Context, order *model.Order, status model.PaymentStatus, reason string) {
	text := fmt.Sprintf("❌ <b>Платёж по заказу №%d не прошёл</b>\nСтатус: %s", order.ID, status)
	if reason != "" {
		text += "\nПричина: " + reason
	}

	d.alert(ctx, fmt.Sprintf("payment_failed:%d", order.ID), text)
}

func (d *Dispatcher) alert(ctx context.Context, key, text string) {
	allowed, err := d.limiter.Allow(ctx, key)
	if err != nil {
		d.logger.Warn("alert limiter failed", zap.String("key", key), zap.Error(err))
		// При недоступном лимитере алерт отправляется без подавления.
		allowed = true
	}
	if !allowed {
		d.logger.Debug("alert suppressed", zap.String("key", key))
		return
	}

	d.sendToAdmins(ctx, text)
}

func (d *Dispatcher) sendToAdmins(ctx context.Context, text string) {
	for _, chatID := range d.adminChatIDs {
		if err := d.sender.Send(ctx, chatID, text); err != nil {
			d.logger.Warn("admin notification failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) formatNewOrder(order *model.Order) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🍕 <b>Новый заказ №%d</b>\n", order.ID)
	for _, item := range order.Items {
		fmt.Fprintf(&b, "• %s x%d — %s\n", item.ProductName, item.Quantity, formatMoney(item.Price*int64(item.Quantity)))
	}
	if order.DeliveryCost > 0 {
		fmt.Fprintf(&b, "Доставка: %s\n", formatMoney(order.DeliveryCost))
	}
	fmt.Fprintf(&b, "Итого: <b>%s</b>\n", formatMoney(order.TotalAmount))
	if order.DeliveryAddress != "" {
		fmt.Fprintf(&b, "Адрес: %s\n", order.DeliveryAddress)
	}
	if order.ContactPhone != "" {
		fmt.Fprintf(&b, "Телефон: %s\n", order.ContactPhone)
	}
	if order.Comment != "" {
		fmt.Fprintf(&b, "Комментарий: %s\n", order.Comment)
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatMoney(kopecks int64) string {
	if kopecks%100 == 0 {
		return fmt.Sprintf("%d ₽", kopecks/100)
	}
	return fmt.Sprintf("%d.%02d ₽", kopecks/100, kopecks%100)
}
