package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenIsOrderIndependent(t *testing.T) {
	pc := NewPaymentClient(PaymentConfig{TeamSlug: "team", Password: "secret"})

	a := pc.generateToken(map[string]string{"Amount": "100", "OrderId": "o1", "Currency": "KZT"})
	b := pc.generateToken(map[string]string{"Currency": "KZT", "OrderId": "o1", "Amount": "100"})
	c := pc.generateToken(map[string]string{"Amount": "101", "OrderId": "o1", "Currency": "KZT"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestInitPayment(t *testing.T) {
	var got PaymentInitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/PaymentInit/init", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(PaymentInitResponse{
			Success:    true,
			PaymentID:  "pay_1",
			OrderID:    got.OrderID,
			PaymentURL: "https://pay.example/pay_1",
		})
	}))
	defer srv.Close()

	pc := NewPaymentClient(PaymentConfig{BaseURL: srv.URL + "/", TeamSlug: "team", Password: "secret"})
	resp, err := pc.InitPayment(context.Background(), InitPaymentParams{OrderID: "o1", Amount: 5000, Currency: "KZT"})

	require.NoError(t, err)
	assert.Equal(t, "pay_1", resp.PaymentID)
	assert.Equal(t, "https://pay.example/pay_1", resp.PaymentURL)
	assert.Equal(t, "team", got.TeamSlug)
	assert.Equal(t, int64(5000), got.Amount)
	assert.NotEmpty(t, got.Token)
}

func TestInitPaymentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PaymentInitResponse{Success: false, Message: "limit"})
	}))
	defer srv.Close()

	pc := NewPaymentClient(PaymentConfig{BaseURL: srv.URL})
	_, err := pc.InitPayment(context.Background(), InitPaymentParams{OrderID: "o1", Amount: 1, Currency: "KZT"})
	assert.ErrorContains(t, err, "limit")
}

func TestCancelPaymentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	pc := NewPaymentClient(PaymentConfig{BaseURL: srv.URL})
	assert.Error(t, pc.CancelPayment(context.Background(), "pay_1", "cancelled"))
}
