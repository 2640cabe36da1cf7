package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/domain"
)

// DatakazinaConfig holds connection settings for the Datakazina vendor API.
type DatakazinaConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DatakazinaClient talks to the Datakazina bundle vendor. Datakazina has no
// native idempotency support, so SubmitOrder first looks the order up by the
// client-supplied reference and returns the existing order when found,
// keeping retried submissions from double-charging the wallet.
type DatakazinaClient struct {
	config     DatakazinaConfig
	httpClient HTTPClient
}

func NewDatakazinaClient(config DatakazinaConfig, httpClient HTTPClient) *DatakazinaClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &DatakazinaClient{config: config, httpClient: httpClient}
}

func (c *DatakazinaClient) Kind() domain.ProviderKind {
	return domain.ProviderDatakazina
}

type datakazinaOrder struct {
	ID        string  `json:"id"`
	Phone     string  `json:"phone"`
	Network   string  `json:"network"`
	SizeGB    float64 `json:"size_gb"`
	Reference string  `json:"reference"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
}

func (c *DatakazinaClient) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.SubmitResult, error) {
	// Check for an existing order under this reference before submitting.
	existing, raw, err := c.findByReference(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.SubmitResult{
			ProviderOrderID: existing.ID,
			InitialStatus:   existing.Status,
			Raw:             raw,
		}, nil
	}

	payload, err := json.Marshal(datakazinaOrder{
		Phone:     req.Phone,
		Network:   string(req.Network),
		SizeGB:    req.SizeGB,
		Reference: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	body, raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp datakazinaOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode order response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.SubmitResult{
		ProviderOrderID: resp.ID,
		InitialStatus:   resp.Status,
		Raw:             raw,
	}, nil
}

// findByReference returns the existing order for a reference, or nil when
// the provider has no order under it.
func (c *DatakazinaClient) findByReference(ctx context.Context, reference string) (*datakazinaOrder, json.RawMessage, error) {
	u := c.config.BaseURL + "/api/orders?reference=" + url.QueryEscape(reference)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	body, raw, err := c.do(httpReq)
	if errors.Is(err, domain.ErrProviderRejected) {
		// The lookup 404s when no order exists under the reference.
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var orders []datakazinaOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, nil, fmt.Errorf("%w: decode reference lookup: %v", domain.ErrProviderUnavailable, err)
	}
	if len(orders) == 0 {
		return nil, nil, nil
	}
	return &orders[0], raw, nil
}

func (c *DatakazinaClient) CheckStatus(ctx context.Context, providerOrderID string) (*domain.StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/orders/"+providerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	body, raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp datakazinaOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode status response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.StatusResult{
		Status:  resp.Status,
		Message: resp.Message,
		Raw:     raw,
	}, nil
}

type datakazinaWallet struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (c *DatakazinaClient) CheckBalance(ctx context.Context) (*domain.Balance, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/wallet/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.config.APIKey)

	body, _, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp datakazinaWallet
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode balance response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.Balance{Amount: resp.Amount, Currency: resp.Currency}, nil
}

func (c *DatakazinaClient) do(req *http.Request) ([]byte, json.RawMessage, error) {
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
