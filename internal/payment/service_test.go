package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baganov/pizzanat-system/internal/gateway"
	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/order"
	"github.com/baganov/pizzanat-system/internal/repository"
)

type stubStore struct {
	mu             sync.Mutex
	orders         map[int64]*model.Order
	payments       map[int64]*model.Payment
	nextID         int64
	orderPayStatus map[int64]model.OrderPaymentStatus
	pollCalls      int
}

func newStubStore() *stubStore {
	return &stubStore{
		orders:         make(map[int64]*model.Order),
		payments:       make(map[int64]*model.Payment),
		orderPayStatus: make(map[int64]model.OrderPaymentStatus),
		nextID:         1,
	}
}

func (s *stubStore) CreatePayment(_ context.Context, p *model.Payment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	saved := *p
	saved.ID = id
	s.payments[id] = &saved
	return id, nil
}

func (s *stubStore) GetPaymentByID(_ context.Context, id int64) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *stubStore) GetPaymentByGatewayID(_ context.Context, gatewayID string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.GatewayPaymentID == gatewayID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *stubStore) GetLatestPaymentForOrder(_ context.Context, orderID int64) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, repository.ErrPaymentNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *stubStore) GetPaymentsForPolling(_ context.Context, _ time.Time) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollCalls++
	var res []model.Payment
	for _, p := range s.payments {
		if !p.Status.IsTerminal() {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (s *stubStore) pollCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCalls
}

func (s *stubStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status model.PaymentStatus, errorMessage *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return false, repository.ErrPaymentNotFound
	}
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = status
	p.ErrorMessage = errorMessage
	return true, nil
}

func (s *stubStore) GetOrderByID(_ context.Context, id int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (s *stubStore) SetOrderPaymentStatus(_ context.Context, orderID int64, status model.OrderPaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderPayStatus[orderID] = status
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	created  []gateway.CreatePaymentParams
	statuses map[string]*gateway.PaymentInfo
	getErr   map[string]error
	calls    int
	block    chan struct{} // если задан, GetPayment блокируется до закрытия

	cancelled []string
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		statuses: make(map[string]*gateway.PaymentInfo),
		getErr:   make(map[string]error),
	}
}

func (g *stubGateway) CreatePayment(_ context.Context, params gateway.CreatePaymentParams) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, params)
	return &gateway.PaymentInfo{
		ID:              "gw-1",
		Status:          model.PaymentStatusPending,
		Amount:          params.Amount,
		ConfirmationURL: "https://gateway.test/confirm/gw-1",
	}, nil
}

func (g *stubGateway) GetPayment(_ context.Context, gatewayID string) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	g.calls++
	block := g.block
	g.mu.Unlock()

	if block != nil {
		<-block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.getErr[gatewayID]; ok {
		return nil, err
	}
	info, ok := g.statuses[gatewayID]
	if !ok {
		return nil, gateway.ErrPaymentNotFound
	}
	return info, nil
}

func (g *stubGateway) CancelPayment(_ context.Context, gatewayID string) (*gateway.PaymentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, gatewayID)
	info, ok := g.statuses[gatewayID]
	if !ok {
		return nil, gateway.ErrPaymentNotFound
	}
	copied := *info
	copied.Status = model.PaymentStatusCancelled
	copied.CancellationReason = "merchant_canceled"
	return &copied, nil
}

type stubMarker struct {
	mu     sync.Mutex
	marked []int64
	err    error
}

func (m *stubMarker) MarkPaid(_ context.Context, orderID int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.marked = append(m.marked, orderID)
	return &model.Order{ID: orderID, PaymentStatus: model.OrderPaymentPaid}, nil
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []model.PaymentStatus
}

func (a *stubAlerter) AlertPaymentFailed(_ context.Context, _ *model.Order, status model.PaymentStatus, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, status)
}

func newTestService(store *stubStore, gw *stubGateway) (*Service, *stubMarker, *stubAlerter) {
	marker := &stubMarker{}
	alerter := &stubAlerter{}
	return NewService(store, gw, marker, alerter, "https://pizzanat.test", nil), marker, alerter
}

func TestCreateForOrder_OK(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, _, _ := newTestService(store, gw)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP, TotalAmount: 80000}

	p, err := svc.CreateForOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateForOrder error: %v", err)
	}

	if p.GatewayPaymentID != "gw-1" {
		t.Fatalf("gateway id = %s, want gw-1", p.GatewayPaymentID)
	}
	if p.ConfirmationURL == "" {
		t.Fatal("missing confirmation url")
	}
	if len(gw.created) != 1 || gw.created[0].Amount != 80000 {
		t.Fatalf("unexpected gateway calls: %+v", gw.created)
	}
	if gw.created[0].ReturnURL != "https://pizzanat.test/orders/42" {
		t.Fatalf("return url = %s", gw.created[0].ReturnURL)
	}
	if store.orderPayStatus[42] != model.OrderPaymentPending {
		t.Fatalf("order payment status = %s, want PENDING", store.orderPayStatus[42])
	}
}

func TestCreateForOrder_ReusesOpenPayment(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, _, _ := newTestService(store, gw)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP, TotalAmount: 80000}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-old", Status: model.PaymentStatusPending}

	p, err := svc.CreateForOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateForOrder error: %v", err)
	}

	if p.GatewayPaymentID != "gw-old" {
		t.Fatalf("gateway id = %s, want reused gw-old", p.GatewayPaymentID)
	}
	if len(gw.created) != 0 {
		t.Fatal("open payment must not trigger a second gateway create")
	}
}

func TestCreateForOrder_TerminalPaymentCreatesNew(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, _, _ := newTestService(store, gw)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP, TotalAmount: 80000}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-old", Status: model.PaymentStatusCancelled}

	p, err := svc.CreateForOrder(context.Background(), 42)
	if err != nil {
		t.Fatalf("CreateForOrder error: %v", err)
	}

	if p.GatewayPaymentID != "gw-1" {
		t.Fatalf("gateway id = %s, want new gw-1", p.GatewayPaymentID)
	}
	if len(gw.created) != 1 {
		t.Fatalf("gateway create calls = %d, want 1", len(gw.created))
	}
}

func TestCreateForOrder_CashMethod(t *testing.T) {
	store := newStubStore()
	svc, _, _ := newTestService(store, newStubGateway())

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodCash, TotalAmount: 80000}

	if _, err := svc.CreateForOrder(context.Background(), 42); !errors.Is(err, ErrMethodNotOnline) {
		t.Fatalf("err = %v, want ErrMethodNotOnline", err)
	}
}

func TestCreateForOrder_OrderNotFound(t *testing.T) {
	svc, _, _ := newTestService(newStubStore(), newStubGateway())

	if _, err := svc.CreateForOrder(context.Background(), 99); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestApplyWebhook_Succeeded(t *testing.T) {
	store := newStubStore()
	svc, marker, _ := newTestService(store, newStubGateway())

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}

	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusSucceeded, ""); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	if store.payments[1].Status != model.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s, want SUCCEEDED", store.payments[1].Status)
	}
	if len(marker.marked) != 1 || marker.marked[0] != 42 {
		t.Fatalf("marked orders = %v, want [42]", marker.marked)
	}
}

func TestApplyWebhook_ConflictingTerminalIsIgnored(t *testing.T) {
	store := newStubStore()
	svc, marker, alerter := newTestService(store, newStubGateway())

	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusCancelled}

	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusSucceeded, ""); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	if store.payments[1].Status != model.PaymentStatusCancelled {
		t.Fatalf("payment status = %s, want CANCELLED kept", store.payments[1].Status)
	}
	if len(marker.marked) != 0 {
		t.Fatal("cancelled payment must not mark order paid")
	}
	if len(alerter.alerts) != 0 {
		t.Fatalf("alerts = %v, want none", alerter.alerts)
	}
}

func TestApplyWebhook_RedeliveryRecoversOrderAfterFailure(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	marker := &stubMarker{err: errors.New("database unavailable")}
	alerter := &stubAlerter{}
	svc := NewService(store, gw, marker, alerter, "https://pizzanat.test", nil)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}

	// Первая доставка: платёж становится SUCCEEDED, но отметка заказа падает.
	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusSucceeded, ""); err == nil {
		t.Fatal("ApplyWebhook must return error when order update fails")
	}
	if store.payments[1].Status != model.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s, want SUCCEEDED", store.payments[1].Status)
	}
	if len(marker.marked) != 0 {
		t.Fatalf("marked orders = %v, want none yet", marker.marked)
	}

	// Повторная доставка после восстановления БД досинхронизирует заказ,
	// хотя запись платежа уже терминальна.
	marker.err = nil
	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusSucceeded, ""); err != nil {
		t.Fatalf("redelivered ApplyWebhook error: %v", err)
	}
	if len(marker.marked) != 1 || marker.marked[0] != 42 {
		t.Fatalf("marked orders = %v, want [42]", marker.marked)
	}
}

func TestApplyWebhook_Cancelled(t *testing.T) {
	store := newStubStore()
	svc, marker, alerter := newTestService(store, newStubGateway())

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}

	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusCancelled, "expired_on_confirmation"); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	if len(marker.marked) != 0 {
		t.Fatal("cancelled payment must not mark order paid")
	}
	if len(alerter.alerts) != 1 || alerter.alerts[0] != model.PaymentStatusCancelled {
		t.Fatalf("alerts = %v, want [CANCELLED]", alerter.alerts)
	}
	if store.orderPayStatus[42] != model.OrderPaymentCancelled {
		t.Fatalf("order payment status = %s, want CANCELLED", store.orderPayStatus[42])
	}
}

func TestApplyWebhook_AlreadyPaidOrderConverges(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	marker := &stubMarker{err: order.ErrAlreadyPaid}
	alerter := &stubAlerter{}
	svc := NewService(store, gw, marker, alerter, "https://pizzanat.test", nil)

	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}

	if err := svc.ApplyWebhook(context.Background(), "gw-1", model.PaymentStatusSucceeded, ""); err != nil {
		t.Fatalf("ApplyWebhook must converge on already-paid order, got %v", err)
	}
}

func TestApplyWebhook_UnknownPayment(t *testing.T) {
	svc, _, _ := newTestService(newStubStore(), newStubGateway())

	if err := svc.ApplyWebhook(context.Background(), "gw-missing", model.PaymentStatusSucceeded, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelForOrder_VoidsOpenPayment(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, marker, alerter := newTestService(store, gw)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}
	gw.statuses["gw-1"] = &gateway.PaymentInfo{ID: "gw-1", Status: model.PaymentStatusPending}

	if err := svc.CancelForOrder(context.Background(), 42); err != nil {
		t.Fatalf("CancelForOrder error: %v", err)
	}

	if len(gw.cancelled) != 1 || gw.cancelled[0] != "gw-1" {
		t.Fatalf("cancelled = %v, want [gw-1]", gw.cancelled)
	}
	if store.payments[1].Status != model.PaymentStatusCancelled {
		t.Fatalf("payment status = %s, want CANCELLED", store.payments[1].Status)
	}
	if store.orderPayStatus[42] != model.OrderPaymentCancelled {
		t.Fatalf("order payment status = %s, want CANCELLED", store.orderPayStatus[42])
	}
	if len(marker.marked) != 0 {
		t.Fatal("cancel must not mark order paid")
	}
	if len(alerter.alerts) != 1 {
		t.Fatalf("alerts = %v, want one entry", alerter.alerts)
	}
}

func TestCancelForOrder_NoPaymentIsNoop(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, _, _ := newTestService(store, gw)

	if err := svc.CancelForOrder(context.Background(), 42); err != nil {
		t.Fatalf("CancelForOrder error: %v", err)
	}
	if len(gw.cancelled) != 0 {
		t.Fatalf("cancelled = %v, want none", gw.cancelled)
	}
}

func TestCancelForOrder_TerminalPaymentIsNoop(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, _, _ := newTestService(store, gw)

	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusSucceeded}

	if err := svc.CancelForOrder(context.Background(), 42); err != nil {
		t.Fatalf("CancelForOrder error: %v", err)
	}
	if len(gw.cancelled) != 0 {
		t.Fatalf("cancelled = %v, want none", gw.cancelled)
	}
}

func TestForcePoll(t *testing.T) {
	store := newStubStore()
	gw := newStubGateway()
	svc, marker, _ := newTestService(store, gw)

	store.orders[42] = &model.Order{ID: 42, Method: model.PaymentMethodSBP}
	store.payments[1] = &model.Payment{ID: 1, OrderID: 42, GatewayPaymentID: "gw-1", Status: model.PaymentStatusPending}
	gw.statuses["gw-1"] = &gateway.PaymentInfo{ID: "gw-1", Status: model.PaymentStatusSucceeded}

	if err := svc.ForcePoll(context.Background(), 1); err != nil {
		t.Fatalf("ForcePoll error: %v", err)
	}

	if store.payments[1].Status != model.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s, want SUCCEEDED", store.payments[1].Status)
	}
	if len(marker.marked) != 1 {
		t.Fatalf("marked orders = %v, want one entry", marker.marked)
	}
}
