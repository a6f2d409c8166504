package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// changeResponse adds display strings to a balance change.
type changeResponse struct {
	*domain.BalanceChange
	OldBalanceDisplay string `json:"old_balance_display"`
	NewBalanceDisplay string `json:"new_balance_display"`
}

func newChangeResponse(c *domain.BalanceChange) changeResponse {
	return changeResponse{
		BalanceChange:     c,
		OldBalanceDisplay: domain.FormatMinor(c.OldBalance),
		NewBalanceDisplay: domain.FormatMinor(c.NewBalance),
	}
}

type transactionsResponse struct {
	AccountID    string                     `json:"account_id"`
	Transactions []domain.TransactionRecord `json:"transactions"`
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := h.wallet.CreateAccount(r.Context(), req.AccountID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+acc.AccountID)
	respondWithJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.wallet.GetBalance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.wallet.DeleteAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := h.wallet.Deposit(r.Context(), mux.Vars(r)["id"], req.Amount, h.key(r, req.RequestID, req.RequestTime))
	h.respondChange(w, change, err)
}

func (h *Handler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := h.wallet.Withdraw(r.Context(), mux.Vars(r)["id"], req.Amount, h.key(r, req.RequestID, req.RequestTime))
	h.respondChange(w, change, err)
}

func (h *Handler) UpdateBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := h.wallet.UpdateBalance(r.Context(), mux.Vars(r)["id"], req.Amount, h.key(r, req.RequestID, req.RequestTime))
	h.respondChange(w, change, err)
}

func (h *Handler) OpenPendingHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := h.wallet.OpenPending(r.Context(), mux.Vars(r)["id"], req.Amount, h.key(r, req.RequestID, req.RequestTime))
	h.respondChange(w, change, err)
}

func (h *Handler) ClosePendingHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ClosePendingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	change, err := h.wallet.ClosePending(r.Context(), mux.Vars(r)["id"], h.key(r, req.RequestID, req.RequestTime), req.Status)
	h.respondChange(w, change, err)
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.wallet.Transfer(r.Context(), req, h.key(r, req.RequestID, req.RequestTime))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from, err := parseTimeParam(r, "from")
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	recs, err := h.wallet.GetTransactions(r.Context(), id, from, to)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transactionsResponse{AccountID: id, Transactions: recs})
}

// key picks the idempotency key the configured strategy reads from the
// body, falling back to the Idempotency-Key header.
func (h *Handler) key(r *http.Request, requestID, requestTime string) string {
	if k := h.wallet.Keys().PickKey(requestID, requestTime); k != "" {
		return k
	}
	return r.Header.Get("Idempotency-Key")
}

func (h *Handler) respondChange(w http.ResponseWriter, change *domain.BalanceChange, err error) {
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newChangeResponse(change))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, string(domain.KindInvalidInput), "Malformed JSON body")
		return false
	}
	return true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, domain.Errorf(domain.KindInvalidInput, "%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}
