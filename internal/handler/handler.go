package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Dan9191/microcredit-service/internal/approval"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the credit API on r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/holders", h.OnboardHolder).Methods(http.MethodPost)
	r.HandleFunc("/holders/{id:[0-9]+}", h.GetHolder).Methods(http.MethodGet)
	r.HandleFunc("/holders/{id:[0-9]+}/verification", h.UpdateVerification).Methods(http.MethodPut)
	r.HandleFunc("/holders/{id:[0-9]+}/score", h.GetScoreBreakdown).Methods(http.MethodGet)
	r.HandleFunc("/holders/{id:[0-9]+}/evaluations", h.EvaluateApplication).Methods(http.MethodPost)
	r.HandleFunc("/holders/{id:[0-9]+}/loans", h.ApplyForLoan).Methods(http.MethodPost)
	r.HandleFunc("/holders/{id:[0-9]+}/loans", h.LoanHistory).Methods(http.MethodGet)
	r.HandleFunc("/holders/{id:[0-9]+}/deposits", h.RecordDeposit).Methods(http.MethodPost)
	r.HandleFunc("/holders/{id:[0-9]+}/savings", h.SavingsHistory).Methods(http.MethodGet)
	r.HandleFunc("/holders/{id:[0-9]+}/linked-accounts", h.LinkVerifiedAccount).Methods(http.MethodPost)
	r.HandleFunc("/holders/{id:[0-9]+}/vouches", h.ListVouches).Methods(http.MethodGet)
	r.HandleFunc("/holders/{id:[0-9]+}/vouchee-default", h.FlagVoucheeDefault).Methods(http.MethodPost)
	r.HandleFunc("/vouches", h.CreateVouch).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id:[0-9]+}", h.LoanDetail).Methods(http.MethodGet)
	r.HandleFunc("/loans/{id:[0-9]+}/payments", h.RecordPayment).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id:[0-9]+}/default", h.MarkLoanDefaulted).Methods(http.MethodPost)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrStateConflict), errors.Is(err, models.ErrIntegrity):
		status = http.StatusConflict
	default:
		h.log.Errorf("Request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id", models.ErrValidation)
	}
	return id, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err)
	}
	return nil
}

type onboardRequest struct {
	Username         string                  `json:"username"`
	Email            string                  `json:"email"`
	PhoneNumber      string                  `json:"phone_number"`
	NationalID       string                  `json:"national_id"`
	EmploymentStatus models.EmploymentStatus `json:"employment_status"`
	MonthlyIncome    decimal.NullDecimal     `json:"monthly_income"`
}

// OnboardHolder handles profile creation
func (h *Handler) OnboardHolder(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	holder, err := h.svc.OnboardHolder(r.Context(), &models.Holder{
		Username:         req.Username,
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		NationalID:       req.NationalID,
		EmploymentStatus: req.EmploymentStatus,
		MonthlyIncome:    req.MonthlyIncome,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holder)
}

// GetHolder handles profile lookup
func (h *Handler) GetHolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	holder, err := h.svc.GetHolder(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

// UpdateVerification handles document review results
func (h *Handler) UpdateVerification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var v models.Verification
	if err := decode(r, &v); err != nil {
		h.writeError(w, err)
		return
	}
	holder, err := h.svc.UpdateVerification(r.Context(), id, v)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holder)
}

// GetScoreBreakdown handles the score explanation
func (h *Handler) GetScoreBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	report, err := h.svc.GetScoreBreakdown(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// EvaluateApplication handles a what-if application check
func (h *Handler) EvaluateApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req amountRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	decision, err := h.svc.EvaluateApplication(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type applyRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	DurationDays int             `json:"duration_days"`
}

type applyResponse struct {
	Loan     *models.Loan      `json:"loan"`
	Decision approval.Decision `json:"decision"`
}

// ApplyForLoan handles loan applications. Denials are normal responses.
func (h *Handler) ApplyForLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req applyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	loan, decision, err := h.svc.ApplyForLoan(r.Context(), id, req.Amount, req.DurationDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, applyResponse{Loan: loan, Decision: decision})
}

// LoanHistory handles the loan list with stats
func (h *Handler) LoanHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	history, err := h.svc.LoanHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type depositRequest struct {
	Amount decimal.Decimal        `json:"amount"`
	Type   models.TransactionType `json:"type"`
}

// RecordDeposit handles savings ledger entries
func (h *Handler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req depositRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Type == "" {
		req.Type = models.TxDeposit
	}
	tx, err := h.svc.RecordDeposit(r.Context(), id, req.Amount, req.Type)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// SavingsHistory handles the ledger view
func (h *Handler) SavingsHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	summary, err := h.svc.SavingsHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type linkRequest struct {
	Provider    models.Provider `json:"provider"`
	PhoneNumber string          `json:"phone_number"`
}

type linkResponse struct {
	Account *models.LinkedAccount `json:"account"`
	Created bool                  `json:"created"`
}

// LinkVerifiedAccount handles mobile money account linking
func (h *Handler) LinkVerifiedAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req linkRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	account, created, err := h.svc.LinkVerifiedAccount(r.Context(), id, req.Provider, req.PhoneNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, createdStatus(created), linkResponse{Account: account, Created: created})
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// ListVouches handles the vouch view
func (h *Handler) ListVouches(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.svc.ListVouches(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// FlagVoucheeDefault handles the explicit vouchee default event
func (h *Handler) FlagVoucheeDefault(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	vouchers, err := h.svc.FlagVoucheeDefault(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if vouchers == nil {
		vouchers = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"penalized_vouchers": vouchers})
}

type vouchRequest struct {
	VoucherID       int64               `json:"voucher_id"`
	VoucheeID       int64               `json:"vouchee_id"`
	TrustLevel      int                 `json:"trust_level"`
	Relationship    string              `json:"relationship"`
	WillingToCosign bool                `json:"willing_to_cosign"`
	MaxCosignAmount decimal.NullDecimal `json:"max_cosign_amount"`
}

type vouchResponse struct {
	Vouch   *models.Vouch `json:"vouch"`
	Created bool          `json:"created"`
	Message string        `json:"message,omitempty"`
}

// CreateVouch handles vouching; a repeated pair answers 200 with "already exists"
func (h *Handler) CreateVouch(w http.ResponseWriter, r *http.Request) {
	var req vouchRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	vouch, created, err := h.svc.CreateVouch(r.Context(), &models.Vouch{
		VoucherID:       req.VoucherID,
		VoucheeID:       req.VoucheeID,
		TrustLevel:      req.TrustLevel,
		Relationship:    req.Relationship,
		WillingToCosign: req.WillingToCosign,
		MaxCosignAmount: req.MaxCosignAmount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := vouchResponse{Vouch: vouch, Created: created}
	if !created {
		resp.Message = "already exists"
	}
	writeJSON(w, createdStatus(created), resp)
}

// LoanDetail handles the loan view
func (h *Handler) LoanDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	detail, err := h.svc.LoanDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type paymentRequest struct {
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	Reference string               `json:"transaction_reference"`
}

type paymentResponse struct {
	Payment *models.Payment `json:"payment"`
	Loan    *models.Loan    `json:"loan"`
}

// RecordPayment handles repayments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	payment, loan, err := h.svc.RecordPayment(r.Context(), id, req.Amount, req.Method, req.Reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Payment: payment, Loan: loan})
}

// MarkLoanDefaulted handles the external default process
func (h *Handler) MarkLoanDefaulted(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	loan, err := h.svc.MarkLoanDefaulted(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}
