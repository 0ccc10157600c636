// Package handler содержит HTTP-обработчики API сервиса доставки пиццы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/baganov/pizzanat-system/internal/auth"
	"github.com/baganov/pizzanat-system/internal/delivery"
	"github.com/baganov/pizzanat-system/internal/middleware"
	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/order"
	"github.com/baganov/pizzanat-system/internal/payment"
	"github.com/baganov/pizzanat-system/internal/repository"
)

// AuthService определяет операции над учётными записями, используемые обработчиками.
type AuthService interface {
	Register(ctx context.Context, login, password, phone string) (int64, error)
	Authenticate(ctx context.Context, login, password string) (int64, error)
}

// OrderService определяет операции над заказами, используемые обработчиками.
type OrderService interface {
	Create(ctx context.Context, params order.CreateParams) (*model.Order, error)
	Transition(ctx context.Context, orderID int64, statusName string) (*model.Order, error)
	Get(ctx context.Context, orderID int64) (*model.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Order, error)
}

// DeliveryService рассчитывает стоимость доставки.
type DeliveryService interface {
	Calculate(ctx context.Context, address string, orderAmount int64) (*delivery.CalculationResult, error)
}

// PaymentService определяет операции над платежами, используемые обработчиками.
type PaymentService interface {
	CreateForOrder(ctx context.Context, orderID int64) (*model.Payment, error)
	ApplyWebhook(ctx context.Context, gatewayPaymentID string, status model.PaymentStatus, reason string) error
	ForcePoll(ctx context.Context, paymentID int64) error
	CancelForOrder(ctx context.Context, orderID int64) error
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	auth           AuthService
	orders         OrderService
	deliverySvc    DeliveryService
	payments       PaymentService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(authSvc AuthService, orders OrderService, deliverySvc DeliveryService, payments PaymentService, logger *zap.Logger, am *middleware.AuthMiddleware) *Handler {
	return &Handler{
		auth:           authSvc,
		orders:         orders,
		deliverySvc:    deliverySvc,
		payments:       payments,
		logger:         logger,
		authMiddleware: am,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.auth.Register(r.Context(), req.Login, req.Password, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserExists):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, auth.ErrInvalidPhone):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("register user error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.auth.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type orderItemRequest struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	PaymentMethod   string             `json:"payment_method"`
	DeliveryAddress string             `json:"delivery_address"`
	ContactName     string             `json:"contact_name"`
	ContactPhone    string             `json:"contact_phone"`
	Comment         string             `json:"comment,omitempty"`
}

type orderItemResponse struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type orderResponse struct {
	ID              int64               `json:"id"`
	Status          string              `json:"status"`
	StatusText      string              `json:"status_text"`
	PaymentStatus   string              `json:"payment_status"`
	PaymentMethod   string              `json:"payment_method"`
	ItemsAmount     int64               `json:"items_amount"`
	DeliveryCost    int64               `json:"delivery_cost"`
	TotalAmount     int64               `json:"total_amount"`
	DeliveryAddress string              `json:"delivery_address,omitempty"`
	Comment         string              `json:"comment,omitempty"`
	Items           []orderItemResponse `json:"items,omitempty"`
	CreatedAt       string              `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Status:          string(o.Status),
		StatusText:      o.Status.Description(),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   string(o.Method),
		ItemsAmount:     o.ItemsAmount,
		DeliveryCost:    o.DeliveryCost,
		TotalAmount:     o.TotalAmount,
		DeliveryAddress: o.DeliveryAddress,
		Comment:         o.Comment,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return resp
}

// CreateOrder создаёт новый заказ. Авторизация необязательна: заказ без
// cookie создаётся анонимным.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	params := order.CreateParams{
		Method:          model.PaymentMethod(req.PaymentMethod),
		DeliveryAddress: req.DeliveryAddress,
		ContactName:     req.ContactName,
		ContactPhone:    req.ContactPhone,
		Comment:         req.Comment,
	}
	for _, item := range req.Items {
		params.Items = append(params.Items, model.OrderItem{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}

	if userID, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		params.UserID = &userID
	}

	created, err := h.orders.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyOrder), errors.Is(err, order.ErrInvalidPhone):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, order.ErrDeliveryUnavailable):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("create order error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(created)); err != nil {
		h.logger.Error("encode order response", zap.Error(err))
	}
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetOrder возвращает один заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if o.UserID == nil || *o.UserID != userID {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toOrderResponse(o)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type calculateRequest struct {
	Address     string `json:"address"`
	OrderAmount int64  `json:"order_amount"`
}

// CalculateDelivery рассчитывает стоимость доставки для адреса и суммы заказа.
func (h *Handler) CalculateDelivery(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.deliverySvc.Calculate(r.Context(), req.Address, req.OrderAmount)
	if err != nil {
		if errors.Is(err, delivery.ErrInvalidAmount) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("calculate delivery error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в указанный статус. Административный эндпоинт.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.orders.Transition(r.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrInvalidStatus):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, order.ErrConflict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	// Отменённый заказ не должен оставлять в шлюзе незавершённый платёж.
	if updated.Status == model.OrderStatusCancelled {
		if err := h.payments.CancelForOrder(r.Context(), orderID); err != nil {
			h.logger.Warn("cancel payment for order error", zap.Error(err), zap.Int64("orderID", orderID))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toOrderResponse(updated)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type paymentResponse struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"order_id"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// CreatePayment создаёт платёж в шлюзе для заказа с онлайн-оплатой
// и возвращает адрес подтверждения.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.payments.CreateForOrder(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, payment.ErrMethodNotOnline):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("create payment error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(paymentResponse{
		ID:              p.ID,
		OrderID:         p.OrderID,
		Status:          string(p.Status),
		Amount:          p.Amount,
		ConfirmationURL: p.ConfirmationURL,
	}); err != nil {
		h.logger.Error("encode payment response", zap.Error(err))
	}
}

type webhookRequest struct {
	Event  string `json:"event"`
	Object struct {
		ID                  string `json:"id"`
		Status              string `json:"status"`
		CancellationDetails *struct {
			Reason string `json:"reason"`
		} `json:"cancellation_details,omitempty"`
	} `json:"object"`
}

// PaymentWebhook принимает уведомление шлюза об изменении статуса платежа.
// Неизвестные платежи подтверждаются кодом 200, чтобы шлюз не повторял доставку.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, ok := model.PaymentStatusFromGateway(req.Object.Status)
	if !ok || req.Object.ID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reason := ""
	if req.Object.CancellationDetails != nil {
		reason = req.Object.CancellationDetails.Reason
	}

	if err := h.payments.ApplyWebhook(r.Context(), req.Object.ID, status, reason); err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			h.logger.Warn("webhook for unknown payment", zap.String("gateway_payment_id", req.Object.ID))
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("apply webhook error", zap.Error(err), zap.String("gateway_payment_id", req.Object.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ForcePollPayment немедленно сверяет платёж со шлюзом. Административный эндпоинт.
func (h *Handler) ForcePollPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.payments.ForcePoll(r.Context(), paymentID); err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("force poll error", zap.Error(err), zap.Int64("paymentID", paymentID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
