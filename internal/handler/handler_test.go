package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/Dan9191/microcredit-service/internal/lock"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	log, _ := test.NewNullLogger()
	cfg := &config.Config{
		HMACSecret:    "test-hmac-secret",
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
	}
	svc := service.NewService(repository.NewMemoryStore(), lock.NewKeyedMutex(), log, cfg)
	r := mux.NewRouter()
	NewHandler(svc, log).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func onboard(t *testing.T, r http.Handler, username string) models.Holder {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/holders", map[string]any{"username": username, "email": username + "@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var h models.Holder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	return h
}

func TestOnboardAndGetHolder(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "chikondi")
	assert.Equal(t, 300, h.CurrentScore)

	rec := do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d", h.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Holder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "chikondi", got.Username)

	rec = do(t, r, http.MethodGet, "/holders/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "thoko")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown field", http.MethodPost, "/holders", map[string]any{"username": "x", "current_score": 850}, http.StatusBadRequest},
		{"missing username", http.MethodPost, "/holders", map[string]any{"email": "a@b.c"}, http.StatusBadRequest},
		{"negative deposit", http.MethodPost, fmt.Sprintf("/holders/%d/deposits", h.ID), map[string]any{"amount": "-5"}, http.StatusBadRequest},
		{"deposit unknown holder", http.MethodPost, "/holders/999/deposits", map[string]any{"amount": "5"}, http.StatusNotFound},
		{"self vouch", http.MethodPost, "/vouches", map[string]any{"voucher_id": h.ID, "vouchee_id": h.ID, "trust_level": 3}, http.StatusBadRequest},
		{"vouchee without default", http.MethodPost, fmt.Sprintf("/holders/%d/vouchee-default", h.ID), nil, http.StatusConflict},
		{"unknown loan", http.MethodGet, "/loans/42", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDepositAndSavingsHistory(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "mphatso")

	for _, amount := range []string{"1000", "2500"} {
		rec := do(t, r, http.MethodPost, fmt.Sprintf("/holders/%d/deposits", h.ID), map[string]any{"amount": amount})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d/savings", h.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.SavingsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Transactions, 2)
	assert.Equal(t, "3500", summary.CurrentBalance.String())
}

func TestRejectedApplicationIsPersisted(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "limbani")

	rec := do(t, r, http.MethodPost, fmt.Sprintf("/holders/%d/loans", h.ID), map[string]any{"amount": "1000", "duration_days": 30})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp applyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Decision.Approved)
	require.NotNil(t, resp.Loan)
	assert.Equal(t, models.LoanRejected, resp.Loan.Status)

	rec = do(t, r, http.MethodPost, fmt.Sprintf("/loans/%d/payments", resp.Loan.ID),
		map[string]any{"amount": "100", "method": "cash", "transaction_reference": "R1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d/loans", h.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history models.LoanHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.Loans, 1)
}

func TestEvaluateDoesNotCreateLoan(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "kondwani")

	rec := do(t, r, http.MethodPost, fmt.Sprintf("/holders/%d/evaluations", h.ID), map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d/loans", h.ID), nil)
	var history models.LoanHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Empty(t, history.Loans)
}

func TestVouchCreateIsIdempotent(t *testing.T) {
	r := newRouter(t)
	a := onboard(t, r, "alinafe")
	b := onboard(t, r, "bwalo")
	body := map[string]any{"voucher_id": a.ID, "vouchee_id": b.ID, "trust_level": 3, "relationship": "neighbour"}

	rec := do(t, r, http.MethodPost, "/vouches", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodPost, "/vouches", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp vouchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Created)
	assert.Equal(t, "already exists", resp.Message)

	rec = do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d/vouches", b.ID), nil)
	var list models.VouchList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Received, 1)
	assert.Empty(t, list.Given)
}

func TestVerificationAndScore(t *testing.T) {
	r := newRouter(t)
	h := onboard(t, r, "tadala")

	rec := do(t, r, http.MethodPut, fmt.Sprintf("/holders/%d/verification", h.ID),
		models.Verification{Identity: true, Address: true, Income: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodGet, fmt.Sprintf("/holders/%d/score", h.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report, "max_loan_amount")
}

func TestHealth(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := &Handler{log: log}
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
