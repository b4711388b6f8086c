package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"urembo-be/internal/mpesa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storefrontAPI fakes the payment API and the cart route. query answers
// the n-th status query (1-based).
func storefrontAPI(t *testing.T, query func(n int32) any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var cartCleared atomic.Int32
	var queries atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mpesa/stkpush", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer buyer-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["phoneNumber"] != "254712345678" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid phone number"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":           true,
			"checkoutRequestId": "ws_CO_010520241030001",
			"merchantRequestId": "29115-34620561-1",
			"responseCode":      "0",
		})
	})
	mux.HandleFunc("POST /mpesa/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(query(queries.Add(1)))
	})
	mux.HandleFunc("DELETE /cart", func(w http.ResponseWriter, r *http.Request) {
		cartCleared.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("API_URL", srv.URL)
	t.Setenv("APP_ENV", "production")
	t.Setenv("MPESA_ENABLED", "true")
	t.Setenv("ACCESS_TOKEN", "buyer-token")
	return srv, &cartCleared
}

func pendingAnswer() map[string]any {
	return map[string]any{"success": true, "ResultCode": nil, "checkoutRequestId": "ws_CO_010520241030001"}
}

func resultAnswer(code string, desc string) map[string]any {
	return map[string]any{"success": true, "ResultCode": code, "ResultDesc": desc, "checkoutRequestId": "ws_CO_010520241030001"}
}

var payArgs = []string{
	"-phone", "0712345678",
	"-amount", "1250",
	"-order", "ORD-42",
	"-interval", "5ms",
	"-attempts", "3",
}

func TestRun_Success(t *testing.T) {
	_, cleared := storefrontAPI(t, func(n int32) any {
		if n < 2 {
			return pendingAnswer()
		}
		return resultAnswer("0", "The service request is processed successfully.")
	})

	var out bytes.Buffer
	err := run(context.Background(), payArgs, strings.NewReader(""), &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "[processing]")
	assert.Contains(t, got, "[waiting]")
	assert.Contains(t, got, "[success]")
	assert.Contains(t, got, "Order ORD-42 confirmed")
	assert.Contains(t, got, "ws_CO_010520241030001")
	assert.Equal(t, int32(1), cleared.Load())
}

func TestRun_UserCancelled(t *testing.T) {
	_, cleared := storefrontAPI(t, func(int32) any {
		return resultAnswer("1032", "Request cancelled by user")
	})

	var out bytes.Buffer
	err := run(context.Background(), payArgs, strings.NewReader(""), &out)
	assert.ErrorIs(t, err, mpesa.ErrPaymentCancelled)
	assert.Contains(t, out.String(), "[cancelled]")
	assert.Equal(t, int32(0), cleared.Load())
}

func TestRun_Failed(t *testing.T) {
	storefrontAPI(t, func(int32) any {
		return resultAnswer("1", "The balance is insufficient for the transaction.")
	})

	err := run(context.Background(), payArgs, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, mpesa.ErrPaymentFailed)
	assert.ErrorContains(t, err, "balance is insufficient")
}

func TestRun_TimeoutThenCheckAgain(t *testing.T) {
	_, cleared := storefrontAPI(t, func(n int32) any {
		if n <= 4 {
			return pendingAnswer()
		}
		return resultAnswer("0", "The service request is processed successfully.")
	})

	var out bytes.Buffer
	err := run(context.Background(), payArgs, strings.NewReader("y\ny\n"), &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "[timeout]")
	assert.Equal(t, 2, strings.Count(got, "Check payment status again?"))
	assert.Contains(t, got, "Order ORD-42 confirmed")
	assert.Equal(t, int32(1), cleared.Load())
}

func TestRun_TimeoutAborted(t *testing.T) {
	storefrontAPI(t, func(int32) any { return pendingAnswer() })

	var out bytes.Buffer
	err := run(context.Background(), payArgs, strings.NewReader("n\n"), &out)
	assert.ErrorIs(t, err, errAborted)
	assert.Contains(t, out.String(), "[timeout]")
}

func TestRun_InitiationRejected(t *testing.T) {
	storefrontAPI(t, func(int32) any { return pendingAnswer() })

	args := []string{"-phone", "0112345678", "-amount", "100", "-order", "ORD-7"}
	err := run(context.Background(), args, strings.NewReader(""), &bytes.Buffer{})
	assert.EqualError(t, err, "Invalid phone number")
}

func TestRun_InvalidInput(t *testing.T) {
	storefrontAPI(t, func(int32) any { return pendingAnswer() })

	err := run(context.Background(), []string{"-phone", "12345", "-amount", "100", "-order", "ORD-7"}, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, mpesa.ErrInvalidPhone)

	err = run(context.Background(), []string{"-phone", "0712345678", "-order", "ORD-7"}, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, mpesa.ErrInvalidAmount)
}

func TestRun_MpesaDisabled(t *testing.T) {
	storefrontAPI(t, func(int32) any { return pendingAnswer() })
	t.Setenv("MPESA_ENABLED", "false")

	err := run(context.Background(), payArgs, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, mpesa.ErrMpesaDisabled)
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-phone", "0712345678", "-amount", "99.5", "-order", "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, "0712345678", opts.phone)
	assert.Equal(t, 99.5, opts.amount)
	assert.Equal(t, mpesa.DefaultPollInterval, opts.interval)
	assert.Equal(t, mpesa.DefaultMaxAttempts, opts.attempts)

	_, err = parseFlags([]string{"-bogus"})
	assert.Error(t, err)
}

func TestRun_AccessTokenFile(t *testing.T) {
	t.Run("Token Read From File", func(t *testing.T) {
		storefrontAPI(t, func(int32) any {
			return resultAnswer("0", "The service request is processed successfully.")
		})
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("buyer-token\n"), 0o600))
		t.Setenv("ACCESS_TOKEN", "stale-token")
		t.Setenv("ACCESS_TOKEN_FILE", path)

		require.NoError(t, run(context.Background(), payArgs, strings.NewReader(""), &bytes.Buffer{}))
	})

	t.Run("Unreadable File", func(t *testing.T) {
		storefrontAPI(t, func(int32) any { return pendingAnswer() })
		t.Setenv("ACCESS_TOKEN_FILE", filepath.Join(t.TempDir(), "absent"))

		err := run(context.Background(), payArgs, strings.NewReader(""), &bytes.Buffer{})
		assert.EqualError(t, err, "Your session has expired. Please sign in again to complete your payment.")
	})
}
