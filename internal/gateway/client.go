// Package gateway предоставляет клиент платёжного шлюза (API, совместимое с ЮKassa).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/baganov/pizzanat-system/internal/model"
)

// ErrPaymentNotFound возвращается, если шлюз не знает платёж с указанным идентификатором.
var ErrPaymentNotFound = errors.New("payment not found in gateway")

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	httpClient *http.Client
}

// CreatePaymentParams описывает параметры создания платежа.
type CreatePaymentParams struct {
	OrderID     int64
	Amount      int64 // сумма в копейках
	Method      model.PaymentMethod
	Description string
	ReturnURL   string
}

// PaymentInfo описывает состояние платежа в шлюзе.
type PaymentInfo struct {
	ID                 string
	Status             model.PaymentStatus
	Amount             int64 // сумма в копейках
	ConfirmationURL    string
	CancellationReason string
}

type wireAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type wireConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type wirePaymentMethodData struct {
	Type string `json:"type"`
}

type wireCancellationDetails struct {
	Reason string `json:"reason"`
}

type wireMetadata struct {
	OrderID string `json:"order_id"`
}

type wireCreateRequest struct {
	Amount            wireAmount            `json:"amount"`
	Capture           bool                  `json:"capture"`
	Confirmation      wireConfirmation      `json:"confirmation"`
	PaymentMethodData wirePaymentMethodData `json:"payment_method_data"`
	Description       string                `json:"description,omitempty"`
	Metadata          wireMetadata          `json:"metadata"`
}

type wirePayment struct {
	ID                  string                   `json:"id"`
	Status              string                   `json:"status"`
	Amount              wireAmount               `json:"amount"`
	Confirmation        *wireConfirmation        `json:"confirmation,omitempty"`
	CancellationDetails *wireCancellationDetails `json:"cancellation_details,omitempty"`
}

// NewClient создаёт клиент шлюза с ретраями на сетевые сбои и 5xx.
func NewClient(baseURL, shopID, secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		shopID:     shopID,
		secretKey:  secretKey,
		httpClient: rc.StandardClient(),
	}
}

// CreatePayment создаёт платёж в шлюзе. Запрос идемпотентен: повтор с тем же
// ключом не создаст второй платёж.
func (c *Client) CreatePayment(ctx context.Context, params CreatePaymentParams) (*PaymentInfo, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	body := wireCreateRequest{
		Amount:            wireAmount{Value: formatAmount(params.Amount), Currency: "RUB"},
		Capture:           true,
		Confirmation:      wireConfirmation{Type: "redirect", ReturnURL: params.ReturnURL},
		PaymentMethodData: wirePaymentMethodData{Type: params.Method.GatewayMethod()},
		Description:       params.Description,
		Metadata:          wireMetadata{OrderID: strconv.FormatInt(params.OrderID, 10)},
	}

	return c.doPayment(ctx, http.MethodPost, c.baseURL+"/payments", &body)
}

// GetPayment запрашивает актуальное состояние платежа в шлюзе.
func (c *Client) GetPayment(ctx context.Context, gatewayID string) (*PaymentInfo, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	return c.doPayment(ctx, http.MethodGet, c.baseURL+"/payments/"+gatewayID, nil)
}

// CancelPayment отменяет платёж, ожидающий подтверждения списания.
func (c *Client) CancelPayment(ctx context.Context, gatewayID string) (*PaymentInfo, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	return c.doPayment(ctx, http.MethodPost, c.baseURL+"/payments/"+gatewayID+"/cancel", struct{}{})
}

func (c *Client) doPayment(ctx context.Context, method, url string, body any) (*PaymentInfo, error) {
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.SetBasicAuth(c.shopID, c.secretKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var wp wirePayment
	if err := json.NewDecoder(resp.Body).Decode(&wp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return fromWire(&wp)
}

func fromWire(wp *wirePayment) (*PaymentInfo, error) {
	status, ok := model.PaymentStatusFromGateway(wp.Status)
	if !ok {
		return nil, fmt.Errorf("unknown payment status: %q", wp.Status)
	}

	amount, err := parseAmount(wp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	info := &PaymentInfo{
		ID:     wp.ID,
		Status: status,
		Amount: amount,
	}
	if wp.Confirmation != nil {
		info.ConfirmationURL = wp.Confirmation.ConfirmationURL
	}
	if wp.CancellationDetails != nil {
		info.CancellationReason = wp.CancellationDetails.Reason
	}

	return info, nil
}

// formatAmount переводит копейки в строку вида "123.45", как ожидает шлюз.
func formatAmount(kopecks int64) string {
	return fmt.Sprintf("%d.%02d", kopecks/100, kopecks%100)
}

// parseAmount переводит строку шлюза "123.45" в копейки без плавающей точки.
func parseAmount(value string) (int64, error) {
	whole, frac, found := strings.Cut(value, ".")

	rubles, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}

	if !found {
		return rubles * 100, nil
	}

	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	kopecks, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}

	return rubles*100 + kopecks, nil
}
