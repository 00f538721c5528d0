package routes

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"trustescrow/core/events"
	"trustescrow/gateway/audit"
	"trustescrow/gateway/middleware"
	"trustescrow/native/escrow"
	"trustescrow/native/reputation"
)

const (
	requestBodyLimit    = 1 << 16
	idempotencyKeyLimit = 128
	// IdempotencyHeader lets clients retry deposits safely.
	IdempotencyHeader = "Idempotency-Key"
)

type escrowRoutes struct {
	engine *escrow.Engine
	audit  *audit.Store
	hub    *events.Hub
	logger *slog.Logger
}

func (h *escrowRoutes) mount(r chi.Router) {
	r.Post("/transactions", h.deposit)
	r.Get("/transactions/{id}", h.transaction)
	r.Get("/transactions/{id}/status", h.status)
	r.Post("/transactions/{id}/protection", h.addProtection)
	r.Post("/transactions/{id}/withdraw", h.withdraw)
	r.Post("/transactions/{id}/dispute", h.dispute)
	r.Get("/merchants/{address}/reputation", h.merchantReputation)
	r.Get("/fees", h.fees)
	r.Post("/fees/withdraw", h.withdrawFees)
	r.Get("/events", h.events)
	if h.hub != nil {
		r.Get("/events/stream", h.stream)
	}
}

type depositRequest struct {
	Merchant    string `json:"merchant"`
	ValueSource string `json:"valueSource"`
	Amount      string `json:"amount"`
}

type transactionView struct {
	ID          string `json:"id"`
	Buyer       string `json:"buyer"`
	Merchant    string `json:"merchant"`
	Amount      string `json:"amount"`
	ValueSource string `json:"valueSource"`
	CreatedAt   int64  `json:"createdAt"`
	ReleaseAt   int64  `json:"releaseAt"`
	Status      string `json:"status"`
}

type resolutionView struct {
	ID         string `json:"id"`
	Outcome    string `json:"outcome"`
	Status     string `json:"status"`
	Reputation uint64 `json:"reputation"`
	Valid      bool   `json:"valid"`
}

type statsView struct {
	TotalTransactions        uint64 `json:"totalTransactions"`
	TotalAmount              string `json:"totalAmount"`
	SuccessfulTransactions   uint64 `json:"successfulTransactions"`
	SuccessfulAmount         string `json:"successfulAmount"`
	DisputedTransactions     uint64 `json:"disputedTransactions"`
	DisputedAmount           string `json:"disputedAmount"`
	ChargebackedTransactions uint64 `json:"chargebackedTransactions"`
	ChargebackedAmount       string `json:"chargebackedAmount"`
	CreationTimestamp        int64  `json:"creationTimestamp"`
	LastUpdateTimestamp      int64  `json:"lastUpdateTimestamp"`
}

type reputationView struct {
	Merchant    string        `json:"merchant"`
	Reputation  uint64        `json:"reputation"`
	Valid       bool          `json:"valid"`
	EvaluatedAt int64         `json:"evaluatedAt"`
	Breakdown   breakdownView `json:"breakdown"`
	Stats       *statsView    `json:"stats,omitempty"`
}

type breakdownView struct {
	SuccessRate    uint64 `json:"successRate"`
	DisputeRate    uint64 `json:"disputeRate"`
	ChargebackRate uint64 `json:"chargebackRate"`
	DecayFactor    uint64 `json:"decayFactor"`
	Base           uint64 `json:"base"`
	Decayed        uint64 `json:"decayed"`
	AgeBonus       uint64 `json:"ageBonus"`
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  uint64            `json:"timestamp"`
}

func (h *escrowRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if len(key) > idempotencyKeyLimit {
		writeBadRequest(w, errors.New("idempotency key too long"))
		return
	}
	var requestHash string
	callerHex := common.Address(caller).Hex()
	if key != "" && h.audit != nil {
		requestHash = audit.HashRequest(r.Method, r.URL.Path, bytes.TrimSpace(body))
		cached, err := h.audit.ReserveIdempotency(r.Context(), callerHex, key, requestHash)
		if err != nil {
			if !errors.Is(err, audit.ErrIdempotencyMismatch) && !errors.Is(err, audit.ErrIdempotencyInFlight) {
				h.logger.Error("idempotency reservation failed", slog.String("error", err.Error()))
			}
			writeError(w, err)
			return
		}
		if cached != nil {
			w.Header().Set("Idempotent-Replay", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}
	// Once the deposit commits the reservation is kept even if caching the
	// response fails, so a retry can never charge the buyer twice.
	deposited := false
	defer func() {
		if requestHash == "" || deposited {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		defer cancel()
		if err := h.audit.ReleaseIdempotency(ctx, callerHex, key); err != nil {
			h.logger.Error("idempotency release failed", slog.String("error", err.Error()))
		}
	}()

	var req depositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	merchant, err := parseAddress(req.Merchant)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		writeBadRequest(w, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	id, err := h.engine.Deposit(caller, merchant, req.ValueSource, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	deposited = true
	txn, err := h.engine.Transaction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := json.Marshal(h.view(txn))
	if err != nil {
		writeError(w, err)
		return
	}
	if requestHash != "" {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		defer cancel()
		if err := h.audit.SaveIdempotency(ctx, callerHex, key, requestHash, http.StatusCreated, payload); err != nil {
			h.logger.Error("idempotency save failed", slog.String("error", err.Error()))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(append(payload, '\n'))
}

func (h *escrowRoutes) transaction(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionParam(w, r)
	if !ok {
		return
	}
	txn, err := h.engine.Transaction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn))
}

func (h *escrowRoutes) status(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionParam(w, r)
	if !ok {
		return
	}
	status, err := h.engine.CheckStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": hexID(id), "status": status.String()})
}

func (h *escrowRoutes) addProtection(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.AddProtection)
}

func (h *escrowRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Withdraw)
}

func (h *escrowRoutes) transition(w http.ResponseWriter, r *http.Request, apply func([32]byte, [20]byte) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := transactionParam(w, r)
	if !ok {
		return
	}
	if err := apply(id, caller); err != nil {
		writeError(w, err)
		return
	}
	txn, err := h.engine.Transaction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(txn))
}

func (h *escrowRoutes) dispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := transactionParam(w, r)
	if !ok {
		return
	}
	resolution, err := h.engine.Dispute(id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionView{
		ID:         hexID(resolution.TransactionID),
		Outcome:    string(resolution.Outcome),
		Status:     resolution.Status.String(),
		Reputation: resolution.Reputation,
		Valid:      resolution.Valid,
	})
}

func (h *escrowRoutes) merchantReputation(w http.ResponseWriter, r *http.Request) {
	merchant, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	standing, err := h.engine.Merchant(merchant)
	if err != nil {
		writeError(w, err)
		return
	}
	view := reputationView{
		Merchant:    common.Address(merchant).Hex(),
		Reputation:  standing.Evaluation.Reputation,
		Valid:       standing.Evaluation.Valid,
		EvaluatedAt: standing.EvaluatedAt,
		Breakdown:   toBreakdownView(standing.Evaluation),
	}
	if rec := standing.Record; rec != nil {
		view.Stats = &statsView{
			TotalTransactions:        rec.TotalTransactions,
			TotalAmount:              rec.TotalAmount.String(),
			SuccessfulTransactions:   rec.SuccessfulTransactions,
			SuccessfulAmount:         rec.SuccessfulAmount.String(),
			DisputedTransactions:     rec.DisputedTransactions,
			DisputedAmount:           rec.DisputedAmount.String(),
			ChargebackedTransactions: rec.ChargebackedTransactions,
			ChargebackedAmount:       rec.ChargebackedAmount.String(),
			CreationTimestamp:        rec.CreationTimestamp,
			LastUpdateTimestamp:      rec.LastUpdateTimestamp,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *escrowRoutes) fees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.engine.ProtocolFees()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"source": h.engine.Params().FeeSource,
		"amount": fees.String(),
	})
}

func (h *escrowRoutes) withdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	swept, err := h.engine.WithdrawProtocolFees(caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"source": h.engine.Params().FeeSource,
		"amount": swept.String(),
	})
}

func (h *escrowRoutes) events(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var from uint64
	if raw := query.Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid from %q", raw))
			return
		}
		from = parsed
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	records, err := h.engine.Events(from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(records))
	next := from
	for _, record := range records {
		out = append(out, toEventView(record))
		next = record.Sequence + 1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"next":   next,
	})
}

func toBreakdownView(eval reputation.Evaluation) breakdownView {
	return breakdownView{
		SuccessRate:    eval.SuccessRate,
		DisputeRate:    eval.DisputeRate,
		ChargebackRate: eval.ChargebackRate,
		DecayFactor:    eval.DecayFactor,
		Base:           eval.Base,
		Decayed:        eval.Decayed,
		AgeBonus:       eval.AgeBonus,
	}
}

func toEventView(record events.Record) eventView {
	return eventView{
		Sequence:   record.Sequence,
		Type:       record.Type,
		Attributes: record.Event().Attributes,
		Timestamp:  record.Timestamp,
	}
}

func (h *escrowRoutes) view(txn *escrow.Transaction) transactionView {
	return transactionView{
		ID:          hexID(txn.ID),
		Buyer:       common.Address(txn.Buyer).Hex(),
		Merchant:    common.Address(txn.Merchant).Hex(),
		Amount:      txn.Amount.String(),
		ValueSource: txn.ValueSource,
		CreatedAt:   txn.CreatedAt,
		ReleaseAt:   txn.CreatedAt + h.engine.Params().EscrowPeriod,
		Status:      txn.Status.String(),
	}
}

func requireCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeCode(w, codeUnauthenticated, "caller required")
		return [20]byte{}, false
	}
	return caller, true
}

func transactionParam(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	id, err := parseTransactionID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return [32]byte{}, false
	}
	return id, true
}

func parseTransactionID(value string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("invalid transaction id %q", value)
	}
	var id [32]byte
	copy(id[:], decoded)
	return id, nil
}

func parseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func hexID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
