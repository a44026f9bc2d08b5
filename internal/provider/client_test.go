package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/config"
)

func newTestClient(serverURL string) *Client {
	c := NewClient(config.Config{ProviderBaseURL: serverURL, ProviderAPIKey: "test-key"})
	// tests should not sit out the production pacing
	c.limiter.SetLimit(1000)
	return c
}

func TestNameEnquiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfers/name-enquiry", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"response_code":"00","account_name":"MUSA ABDULKADIR","session_id":"sess-1"}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).NameEnquiry(context.Background(), "1001011000", "000013")
	require.NoError(t, err)
	assert.Equal(t, "MUSA ABDULKADIR", result.AccountName)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestNameEnquiryRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response_code":"07"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).NameEnquiry(context.Background(), "0000000000", "000013")
	assert.ErrorIs(t, err, ledger.ErrProviderRejected)
}

func TestFundTransferAccepted(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		accepted bool
	}{
		{"code 00", `{"response_code":"00"}`, true},
		{"success flag only", `{"response_code":"","success":true}`, true},
		{"declined", `{"response_code":"14","success":false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			result, err := newTestClient(server.URL).FundTransfer(context.Background(), FundTransferRequest{
				Reference: "TXN-1", Amount: 100_000,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, result.Accepted())
		})
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).BalanceEnquiry(context.Background(), "9000000001")
	assert.ErrorIs(t, err, ledger.ErrProviderUnavailable)
}

func TestBreakerTripsAfterThreeFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 3; i++ {
		_, err := client.BalanceEnquiry(context.Background(), "9000000001")
		assert.ErrorIs(t, err, ledger.ErrProviderUnavailable)
	}

	// fourth call is rejected locally without reaching the server
	_, err := client.BalanceEnquiry(context.Background(), "9000000001")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), ErrCircuitOpen.Error())
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())
}

func TestBankListFallsBackToStaticTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	banks := newTestClient(server.URL).BankList(context.Background())
	assert.Equal(t, "GTBank", banks["000013"])
}

func TestResolveBankCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"banks":[{"institution_code":"000013","name":"GTBank"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	code, name, err := client.ResolveBankCode(context.Background(), "000013")
	require.NoError(t, err)
	assert.Equal(t, "000013", code)
	assert.Equal(t, "GTBank", name)

	// legacy CBN code maps through the static table
	code, name, err = client.ResolveBankCode(context.Background(), "058")
	require.NoError(t, err)
	assert.Equal(t, "000013", code)
	assert.Equal(t, "GTBank", name)

	_, _, err = client.ResolveBankCode(context.Background(), "999")
	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)
}
