package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
)

const (
	requestDeadline  = 30 * time.Second
	bankListCacheTTL = 6 * time.Hour
)

var sixDigitCode = regexp.MustCompile(`^\d{6}$`)

// Client talks to the BaaS provider. Calls are rate limited to one every
// 200ms and guarded by a circuit breaker (3 consecutive failures, 5 minute
// cooldown).
type Client struct {
	BaseURL string
	APIKey  string

	http    *http.Client
	limiter *rate.Limiter
	breaker *Breaker

	mu            sync.RWMutex
	banks         map[string]string // code -> name
	banksFetched  time.Time
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		http:    &http.Client{Timeout: requestDeadline},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		breaker: NewBreaker(3, 5*time.Minute),
	}
}

type NameEnquiryResult struct {
	AccountName string `json:"account_name"`
	SessionID   string `json:"session_id"`
}

type FundTransferRequest struct {
	Reference       string `json:"reference"`
	AccountNumber   string `json:"account_number"`
	InstitutionCode string `json:"institution_code"`
	AccountName     string `json:"account_name"`
	Amount          int64  `json:"amount"`
	Narration       string `json:"narration"`
}

type FundTransferResult struct {
	ResponseCode      string `json:"response_code"`
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	ProviderReference string `json:"provider_reference"`
	SessionID         string `json:"session_id"`
}

// Accepted reports whether the provider took the transfer: code "00" or an
// explicit success flag.
func (r *FundTransferResult) Accepted() bool {
	return r.ResponseCode == "00" || r.Success
}

type VirtualAccountRequest struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	BVN       string `json:"bvn"`
}

type VirtualAccountResult struct {
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	RequestID     string `json:"request_id"`
}

func (c *Client) NameEnquiry(ctx context.Context, accountNumber, institutionCode string) (*NameEnquiryResult, error) {
	var resp struct {
		ResponseCode string `json:"response_code"`
		AccountName  string `json:"account_name"`
		SessionID    string `json:"session_id"`
	}
	err := c.post(ctx, "/transfers/name-enquiry", map[string]string{
		"account_number":   accountNumber,
		"institution_code": institutionCode,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "00" {
		return nil, fmt.Errorf("%w: name enquiry code %s", ledger.ErrProviderRejected, resp.ResponseCode)
	}
	return &NameEnquiryResult{AccountName: resp.AccountName, SessionID: resp.SessionID}, nil
}

// FundTransfer submits an outbound NIP transfer. The transaction reference is
// the idempotency key; re-submitting the same reference never moves money
// twice.
func (c *Client) FundTransfer(ctx context.Context, req FundTransferRequest) (*FundTransferResult, error) {
	var result FundTransferResult
	if err := c.post(ctx, "/transfers", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) BalanceEnquiry(ctx context.Context, accountNumber string) (int64, error) {
	var resp struct {
		ResponseCode string `json:"response_code"`
		Balance      int64  `json:"available_balance"`
	}
	err := c.post(ctx, "/accounts/balance", map[string]string{
		"account_number": accountNumber,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ResponseCode != "00" {
		return 0, fmt.Errorf("%w: balance enquiry code %s", ledger.ErrProviderRejected, resp.ResponseCode)
	}
	return resp.Balance, nil
}

// TransferStatus queries the provider's view of a transfer by reference,
// used by reconciliation when no webhook arrived.
func (c *Client) TransferStatus(ctx context.Context, reference string) (*FundTransferResult, error) {
	var result FundTransferResult
	if err := c.get(ctx, "/transfers/"+reference, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// InitiateVirtualAccount starts the two-step account provisioning; the
// returned request id is confirmed with ValidateVirtualAccountOTP.
func (c *Client) InitiateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (string, error) {
	var resp struct {
		ResponseCode string `json:"response_code"`
		RequestID    string `json:"request_id"`
	}
	if err := c.post(ctx, "/accounts/virtual", req, &resp); err != nil {
		return "", err
	}
	if resp.ResponseCode != "00" {
		return "", fmt.Errorf("%w: virtual account code %s", ledger.ErrProviderRejected, resp.ResponseCode)
	}
	return resp.RequestID, nil
}

func (c *Client) ValidateVirtualAccountOTP(ctx context.Context, requestID, otp string) (*VirtualAccountResult, error) {
	var resp struct {
		ResponseCode  string `json:"response_code"`
		AccountNumber string `json:"account_number"`
		BankName      string `json:"bank_name"`
	}
	err := c.post(ctx, "/accounts/virtual/validate", map[string]string{
		"request_id": requestID,
		"otp":        otp,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "00" {
		return nil, fmt.Errorf("%w: otp validation code %s", ledger.ErrProviderRejected, resp.ResponseCode)
	}
	return &VirtualAccountResult{
		AccountNumber: resp.AccountNumber,
		BankName:      resp.BankName,
		RequestID:     requestID,
	}, nil
}

// BankList returns code -> name, from the provider when the cache is stale,
// falling back to the embedded static table.
func (c *Client) BankList(ctx context.Context) map[string]string {
	c.mu.RLock()
	if c.banks != nil && time.Since(c.banksFetched) < bankListCacheTTL {
		defer c.mu.RUnlock()
		return c.banks
	}
	c.mu.RUnlock()

	var resp struct {
		Banks []struct {
			InstitutionCode string `json:"institution_code"`
			Name            string `json:"name"`
		} `json:"banks"`
	}
	if err := c.get(ctx, "/banks", &resp); err != nil || len(resp.Banks) == 0 {
		if err != nil {
			logger.Warn("Bank list fetch failed, using static table", logger.Fields{logger.ErrorKey: err.Error()})
		}
		return staticBanks
	}

	banks := make(map[string]string, len(resp.Banks))
	for _, b := range resp.Banks {
		banks[b.InstitutionCode] = b.Name
	}

	c.mu.Lock()
	c.banks = banks
	c.banksFetched = time.Now()
	c.mu.Unlock()

	return banks
}

// ResolveBankCode turns whatever bank identifier the chat produced into a
// 6-digit institution code plus display name. Legacy 3-digit CBN codes are
// mapped; anything else is looked up by name in the dynamic list.
func (c *Client) ResolveBankCode(ctx context.Context, bankCode string) (string, string, error) {
	if sixDigitCode.MatchString(bankCode) {
		if name, ok := c.BankList(ctx)[bankCode]; ok {
			return bankCode, name, nil
		}
		if name, ok := StaticBankName(bankCode); ok {
			return bankCode, name, nil
		}
		return bankCode, "", nil
	}

	if nip, ok := legacyBankCodes[bankCode]; ok {
		name, _ := StaticBankName(nip)
		return nip, name, nil
	}

	return "", "", &ledger.ValidationError{Field: "bank_code", Message: "unknown bank code " + bankCode}
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, dst interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), dst)
}

func (c *Client) get(ctx context.Context, path string, dst interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, dst)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, dst interface{}) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, ErrCircuitOpen)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("%w: %v", ledger.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		respBody, _ := io.ReadAll(resp.Body)
		logger.Error("Provider server error", logger.Fields{
			"status_code": resp.StatusCode,
			"path":        path,
			"body":        string(respBody),
		})
		return fmt.Errorf("%w: provider returned %d", ledger.ErrProviderUnavailable, resp.StatusCode)
	}

	c.breaker.RecordSuccess()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %d %s", ledger.ErrProviderRejected, resp.StatusCode, string(respBody))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
