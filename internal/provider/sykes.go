package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// SykesConfig holds connection settings for the Sykes vendor API.
type SykesConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SykesClient talks to the Sykes bundle vendor. Sykes supports idempotency
// keys natively via the Idempotency-Key header, so a retried submit with the
// same reference returns the original order instead of creating a new one.
type SykesClient struct {
	config     SykesConfig
	httpClient HTTPClient
}

func NewSykesClient(config SykesConfig, httpClient HTTPClient) *SykesClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &SykesClient{config: config, httpClient: httpClient}
}

func (c *SykesClient) Kind() domain.ProviderKind {
	return domain.ProviderSykes
}

type sykesOrderRequest struct {
	Recipient string  `json:"recipient"`
	Network   string  `json:"network"`
	BundleGB  float64 `json:"bundle_gb"`
	Reference string  `json:"reference"`
}

type sykesOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *SykesClient) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.SubmitResult, error) {
	payload, err := json.Marshal(sykesOrderRequest{
		Recipient: req.Phone,
		Network:   string(req.Network),
		BundleGB:  req.SizeGB,
		Reference: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	body, raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp sykesOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode order response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.SubmitResult{
		ProviderOrderID: resp.OrderID,
		InitialStatus:   resp.Status,
		Raw:             raw,
	}, nil
}

func (c *SykesClient) CheckStatus(ctx context.Context, providerOrderID string) (*domain.StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/v1/orders/"+providerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	body, raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp sykesOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.StatusResult{
		Status:  resp.Status,
		Message: resp.Message,
		Raw:     raw,
	}, nil
}

type sykesBalanceResponse struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

func (c *SykesClient) CheckBalance(ctx context.Context) (*domain.Balance, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/v1/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	body, _, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp sykesBalanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode balance response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.Balance{Amount: resp.Balance, Currency: resp.Currency}, nil
}

// do executes the request and applies the taxonomy mapping. The raw body is
// returned alongside the decoded bytes so callers can persist it for audit.
func (c *SykesClient) do(req *http.Request) ([]byte, json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, nil, classifyHTTPError(err, 0, "")
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		return nil, nil, fmt.Errorf("%w: read response: %v", domain.ErrProviderUnavailable, readErr)
	}

	if err := classifyHTTPError(nil, resp.StatusCode, string(body)); err != nil {
		return nil, nil, err
	}
	return body, json.RawMessage(body), nil
}
