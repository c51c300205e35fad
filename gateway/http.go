package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxErrorBodySize = 4096

// HTTPClient talks to the provider's v1 JSON API.
type HTTPClient struct {
	baseUrl    string
	apiKey     string
	httpClient *http.Client
	validate   *validator.Validate
	now        func() time.Time
}

func NewHTTPClient(config *Config) *HTTPClient {
	return &HTTPClient{
		baseUrl:    strings.TrimSuffix(config.GatewayUrl, "/"),
		apiKey:     config.GatewayApiKey,
		httpClient: &http.Client{Timeout: config.Timeout},
		validate:   validator.New(),
		now:        time.Now,
	}
}

type createInvoiceRequestBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	ClientID    string          `json:"client_id"`
}

type createInvoiceResponseBody struct {
	InvoiceID        string     `json:"invoice_id" validate:"required"`
	QRCode           string     `json:"qr_code" validate:"required_without=QRCodeUrl"`
	QRCodeUrl        string     `json:"qr_code_url" validate:"omitempty,url"`
	AppLink          string     `json:"app_link" validate:"omitempty,uri"`
	InvoiceExpiresAt *time.Time `json:"invoice_expires_at" validate:"required"`
	QRExpiresAt      *time.Time `json:"qr_expires_at"`
}

type errorResponseBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*CreatedInvoice, error) {
	const op = "create invoice"
	body := &createInvoiceRequestBody{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ClientID:    req.ClientID,
	}
	response := &createInvoiceResponseBody{}
	err := c.request(ctx, op, http.MethodPost, "/v1/invoices", req.IdempotencyKey, body, response)
	if errors.Is(err, ErrInvalidResponse) {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if err != nil {
		return nil, err
	}
	if err := c.validate.Struct(response); err != nil {
		// the invoice may exist upstream; a retry with the same key resolves it
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	created := &CreatedInvoice{
		InvoiceID:  response.InvoiceID,
		QRPayload:  response.QRCode,
		QRUrl:      response.QRCodeUrl,
		PaymentUrl: response.AppLink,
		ExpiresAt:  *response.InvoiceExpiresAt,
	}
	if response.QRExpiresAt != nil {
		created.QRExpiresAt = *response.QRExpiresAt
	}
	return created, nil
}

func (c *HTTPClient) GetInvoiceStatus(ctx context.Context, invoiceID string) (*StatusObservation, error) {
	const op = "get invoice status"
	response := &StatusPayload{}
	endpoint := fmt.Sprintf("/v1/invoices/%s/status", url.PathEscape(invoiceID))
	if err := c.request(ctx, op, http.MethodGet, endpoint, "", nil, response); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if response.InvoiceID != invoiceID {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrInvalidResponse, invoiceID, response.InvoiceID)
	}
	return response.Observation(c.now())
}

func (c *HTTPClient) request(ctx context.Context, op, method, endpoint, idempotencyKey string, body, response interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseUrl+endpoint, reader)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	default:
		return rejection(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func rejection(op string, resp *http.Response) error {
	gwErr := &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return gwErr
	}
	parsed := &errorResponseBody{}
	if err := json.Unmarshal(raw, parsed); err != nil {
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			gwErr.Message = msg
		}
		return gwErr
	}
	gwErr.Code = parsed.Code
	switch {
	case parsed.Message != "":
		gwErr.Message = parsed.Message
	case parsed.Error != "":
		gwErr.Message = parsed.Error
	}
	return gwErr
}

var _ Client = (*HTTPClient)(nil)
