// Package checkout wires the cashier-facing HTTP API over the session
// registry, the tender ledger and the PIX encoder.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pontocerto/checkout/internal/cart"
	"github.com/pontocerto/checkout/internal/common"
	"github.com/pontocerto/checkout/internal/events"
	"github.com/pontocerto/checkout/internal/fees"
	"github.com/pontocerto/checkout/internal/lock"
	"github.com/pontocerto/checkout/internal/money"
	"github.com/pontocerto/checkout/internal/obs"
	"github.com/pontocerto/checkout/internal/pix"
	"github.com/pontocerto/checkout/internal/session"
	"github.com/pontocerto/checkout/internal/tender"
)

// Merchant identifies the store on generated PIX payloads.
type Merchant struct {
	Name   string
	City   string
	PixKey string
}

// Handler exposes the checkout session API.
type Handler struct {
	Registry *session.Registry
	Schedule func() (fees.Schedule, error)
	Locker   lock.SessionLocker
	Events   *events.Bus
	Validate *validator.Validate
	Logger   zerolog.Logger
	Merchant Merchant
	LockTTL  time.Duration
}

// Routes mounts the session endpoints on the provided router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.Open)
	r.Route("/sessions/{id}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.Post("/items", h.AddItem)
		s.Patch("/items/{productId}", h.ChangeQuantity)
		s.Delete("/items/{productId}", h.RemoveItem)
		s.Delete("/items", h.ClearItems)
		s.Put("/tender", h.SelectTender)
		s.Get("/tender/quote", h.Quote)
		s.Post("/payments", h.ConfirmPayment)
		s.Get("/change", h.Change)
		s.Post("/finalize", h.Finalize)
		s.Post("/reset", h.Reset)
		s.Post("/fees/refresh", h.RefreshFees)
		s.Get("/pix", h.Pix)
	})
}

// Open starts a checkout session with a fresh fee schedule snapshot.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "session registry not configured", nil)
		return
	}
	schedule := h.loadSchedule()
	sess := h.Registry.Open(schedule)
	if obs.SessionsOpenedTotal != nil {
		obs.SessionsOpenedTotal.Inc()
	}
	h.emit(r.Context(), events.TopicSessionOpened, sess.ID, map[string]any{
		"passThroughEnabled": schedule.PassThroughEnabled,
	})
	common.JSONData(w, http.StatusCreated, map[string]any{
		"sessionId": sess.ID,
	})
}

// Get renders the full session snapshot.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	UnitPrice string `json:"unitPrice" validate:"required"`
	Qty       int    `json:"qty" validate:"omitempty,gt=0"`
}

// AddItem rings up a product. Stock validation happens upstream in the
// inventory module; this endpoint trusts the price and quantity it is given.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload addItemRequest
	if !h.decode(w, r, &payload) {
		return
	}
	unitPrice, err := money.Parse(payload.UnitPrice)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid unit price", nil)
		return
	}
	qty := payload.Qty
	if qty == 0 {
		qty = 1
	}
	err = h.locked(r.Context(), sess.ID, func(context.Context) error {
		return sess.AddItem(payload.ProductID, unitPrice, qty)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

type changeQtyRequest struct {
	Delta int `json:"delta" validate:"required"`
}

// ChangeQuantity adjusts a line by a signed delta. Unknown product ids are a
// silent no-op, matching register behaviour.
func (h *Handler) ChangeQuantity(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "productId")
	var payload changeQtyRequest
	if !h.decode(w, r, &payload) {
		return
	}
	err := h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.ChangeQuantity(productID, payload.Delta)
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

// RemoveItem voids a line regardless of its quantity.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	productID := chi.URLParam(r, "productId")
	err := h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.RemoveItem(productID)
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

// ClearItems empties the cart.
func (h *Handler) ClearItems(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	err := h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.ClearCart()
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

type selectTenderRequest struct {
	Method       string `json:"method" validate:"required"`
	Installments int    `json:"installments" validate:"omitempty,min=1,max=2"`
}

// SelectTender chooses the payment method (and installments for credit).
func (h *Handler) SelectTender(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload selectTenderRequest
	if !h.decode(w, r, &payload) {
		return
	}
	method, err := tender.ParseMethod(payload.Method)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unknown tender method", nil)
		return
	}
	err = h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.SelectMethod(method)
		if payload.Installments > 0 && method == tender.Credit {
			return sess.SelectInstallments(payload.Installments)
		}
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

// Quote returns the suggested payment amount for the selected method. Credit
// in two installments reports both the undivided total and the half.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	quote := sess.QuoteRemaining()
	common.JSONData(w, http.StatusOK, map[string]any{
		"remaining":      money.Format(quote.Total),
		"installments":   quote.Installments,
		"perInstallment": money.Format(quote.PerInstallment),
	})
}

type confirmPaymentRequest struct {
	Method string `json:"method" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

// ConfirmPayment records a partial payment against the session ledger.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	var payload confirmPaymentRequest
	if !h.decode(w, r, &payload) {
		return
	}
	method, err := tender.ParseMethod(payload.Method)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unknown tender method", nil)
		return
	}
	amount, err := money.Parse(payload.Amount)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid amount", nil)
		return
	}
	var entry tender.Entry
	err = h.locked(r.Context(), sess.ID, func(context.Context) error {
		var confirmErr error
		entry, confirmErr = sess.ConfirmPayment(method, amount)
		return confirmErr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if obs.PaymentsConfirmedTotal != nil {
		obs.PaymentsConfirmedTotal.WithLabelValues(string(entry.Method)).Inc()
	}
	snap := sess.Snapshot()
	common.JSONData(w, http.StatusOK, map[string]any{
		"applied": map[string]any{
			"method": string(entry.Method),
			"amount": money.Format(entry.Amount),
		},
		"session": snapshotJSON(snap),
	})
}

// Change previews the change due for a cash payment of ?amount=.
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	amount, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid amount", nil)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{
		"change": money.Format(sess.ComputeChange(amount)),
	})
}

// Finalize closes a fully settled sale, emits the settlement event and
// removes the session.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	var snap session.Snapshot
	err := h.locked(r.Context(), sess.ID, func(context.Context) error {
		var finalizeErr error
		snap, finalizeErr = sess.Finalize()
		return finalizeErr
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Registry.Close(sess.ID)
	if obs.SalesSettledTotal != nil {
		obs.SalesSettledTotal.WithLabelValues(string(snap.Method)).Inc()
	}
	if obs.SaleTotalCentavos != nil {
		obs.SaleTotalCentavos.Observe(float64(snap.ChargeTotal))
	}
	h.emit(r.Context(), events.TopicSaleSettled, snap.ID, map[string]any{
		"subtotal":    money.Format(snap.Subtotal),
		"chargeTotal": money.Format(snap.ChargeTotal),
		"paidTotal":   money.Format(snap.PaidTotal),
		"change":      money.Format(snap.Change),
		"method":      string(snap.Method),
	})
	common.JSONData(w, http.StatusOK, snapshotJSON(snap))
}

// Reset clears the ledger and cart, keeping the session open.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	err := h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.Reset()
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.emit(r.Context(), events.TopicSessionReset, sess.ID, nil)
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

// RefreshFees reloads the fee schedule file and swaps the session snapshot.
func (h *Handler) RefreshFees(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	if h.Schedule == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "fee schedule loader not configured", nil)
		return
	}
	schedule, err := h.Schedule()
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unable to reload fee schedule", nil)
		return
	}
	lockErr := h.locked(r.Context(), sess.ID, func(context.Context) error {
		sess.RefreshSchedule(schedule)
		return nil
	})
	if lockErr != nil {
		h.writeError(w, lockErr)
		return
	}
	h.emit(r.Context(), events.TopicFeesRefreshed, sess.ID, map[string]any{
		"passThroughEnabled": schedule.PassThroughEnabled,
	})
	common.JSONData(w, http.StatusOK, snapshotJSON(sess.Snapshot()))
}

// Pix renders the BR Code payload for the session's outstanding balance.
// With no PIX key configured the response carries the human-readable preview
// line instead of a scannable code.
func (h *Handler) Pix(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.load(w, r)
	if !ok {
		return
	}
	kind := pix.KindWithAmount
	switch strings.TrimSpace(r.URL.Query().Get("kind")) {
	case "dynamic":
		kind = pix.KindDynamic
	case "minimum":
		kind = pix.KindMinimum
	case "", "with_amount":
	default:
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unknown pix kind", nil)
		return
	}
	snap := sess.Snapshot()
	payload := pix.Encode(pix.Request{
		MerchantName: h.Merchant.Name,
		City:         h.Merchant.City,
		Key:          h.Merchant.PixKey,
		Amount:       snap.Remaining,
		Kind:         kind,
	})
	if obs.PixPayloadsTotal != nil {
		outcome := "brcode"
		if strings.HasPrefix(payload, "PIX ") {
			outcome = "fallback"
		}
		obs.PixPayloadsTotal.WithLabelValues(outcome).Inc()
	}
	common.JSONData(w, http.StatusOK, map[string]any{
		"payload": payload,
		"amount":  money.Format(snap.Remaining),
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "session registry not configured", nil)
		return nil, false
	}
	id := chi.URLParam(r, "id")
	sess, err := h.Registry.Get(id)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid request body", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			h.writeError(w, validationError(err))
			return false
		}
	}
	return true
}

func (h *Handler) locked(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return h.Locker.WithSession(ctx, sessionID, ttl, fn)
}

func (h *Handler) loadSchedule() fees.Schedule {
	if h.Schedule == nil {
		return fees.Schedule{}
	}
	schedule, err := h.Schedule()
	if err != nil {
		h.Logger.Warn().Err(err).Msg("load fee schedule, opening session without surcharges")
		return fees.Schedule{}
	}
	return schedule
}

func (h *Handler) emit(ctx context.Context, topic, sessionID string, payload any) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(ctx, topic, sessionID, payload); err != nil {
		h.Logger.Error().Err(err).Str("topic", topic).Msg("emit event")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Msg("checkout handler")
	}
	common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
}

// toAppError translates domain sentinels into the canonical error shape.
// Errors that already carry a code and status pass through unchanged.
func toAppError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return common.NewAppError(common.CodeNotFound, "session not found", http.StatusNotFound, err)
	case errors.Is(err, session.ErrEmptyCart):
		return common.NewAppError(common.CodeConflict, "cart is empty", http.StatusConflict, err)
	case errors.Is(err, session.ErrNotSettleable):
		return common.NewAppError(common.CodeConflict, "payments do not cover the charge total", http.StatusConflict, err)
	case errors.Is(err, cart.ErrInvalidPrice):
		return common.NewAppError(common.CodeBadRequest, "unit price must not be negative", http.StatusBadRequest, err)
	case errors.Is(err, cart.ErrInvalidQuantity):
		return common.NewAppError(common.CodeBadRequest, "quantity must be positive", http.StatusBadRequest, err)
	case errors.Is(err, tender.ErrInvalidAmount):
		return common.NewAppError(common.CodeBadRequest, "payment amount must be positive", http.StatusBadRequest, err)
	case errors.Is(err, tender.ErrInvalidInstallments):
		return common.NewAppError(common.CodeBadRequest, "installments must be 1 or 2", http.StatusBadRequest, err)
	case errors.Is(err, tender.ErrUnknownMethod):
		return common.NewAppError(common.CodeBadRequest, "unknown tender method", http.StatusBadRequest, err)
	default:
		return common.NewAppError(common.CodeInternal, "internal error", http.StatusInternalServerError, err)
	}
}

func validationError(err error) *common.AppError {
	appErr := &common.AppError{
		Code:       common.CodeBadRequest,
		Message:    "validation failed",
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		appErr.Details = map[string]any{"fields": fields}
	}
	return appErr
}

func snapshotJSON(snap session.Snapshot) map[string]any {
	lines := make([]map[string]any, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lines = append(lines, map[string]any{
			"productId": line.ProductID,
			"unitPrice": money.Format(line.UnitPrice),
			"qty":       line.Qty,
			"total":     money.Format(line.Total()),
		})
	}
	payments := make([]map[string]any, 0, len(snap.Payments))
	for _, entry := range snap.Payments {
		payments = append(payments, map[string]any{
			"method": string(entry.Method),
			"amount": money.Format(entry.Amount),
		})
	}
	out := map[string]any{
		"id":           snap.ID,
		"lines":        lines,
		"subtotal":     money.Format(snap.Subtotal),
		"chargeTotal":  money.Format(snap.ChargeTotal),
		"paidTotal":    money.Format(snap.PaidTotal),
		"remaining":    money.Format(snap.Remaining),
		"change":       money.Format(snap.Change),
		"installments": snap.Installments,
		"state":        string(snap.State),
		"settleable":   snap.Settleable,
		"payments":     payments,
	}
	if snap.MethodSelected {
		out["method"] = string(snap.Method)
	}
	return out
}
