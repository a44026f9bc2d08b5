package vtu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/config"
)

const requestDeadline = 30 * time.Second

// Client talks to the airtime/data reseller. Amounts are kobo on our side;
// the reseller API takes naira, converted at the edge.
type Client struct {
	BaseURL string
	APIKey  string

	http *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		BaseURL: cfg.VTUBaseURL,
		APIKey:  cfg.VTUAPIKey,
		http:    &http.Client{Timeout: requestDeadline},
	}
}

type PurchaseResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (c *Client) BuyAirtime(ctx context.Context, network, phone string, amount int64) (*PurchaseResult, error) {
	var result PurchaseResult
	err := c.post(ctx, "/airtime", map[string]interface{}{
		"network": network,
		"phone":   phone,
		"amount":  amount / 100,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) BuyData(ctx context.Context, network, phone, planID string) (*PurchaseResult, error) {
	var result PurchaseResult
	err := c.post(ctx, "/data", map[string]interface{}{
		"network": network,
		"phone":   phone,
		"plan_id": planID,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dst interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: reseller returned %d", ledger.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: reseller returned %d", ledger.ErrProviderRejected, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
