package checkout_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pontocerto/checkout/internal/checkout"
	"github.com/pontocerto/checkout/internal/events"
	"github.com/pontocerto/checkout/internal/fees"
	"github.com/pontocerto/checkout/internal/session"
	"github.com/pontocerto/checkout/internal/tender"
)

type sessionView struct {
	ID    string `json:"id"`
	Lines []struct {
		ProductID string `json:"productId"`
		UnitPrice string `json:"unitPrice"`
		Qty       int    `json:"qty"`
		Total     string `json:"total"`
	} `json:"lines"`
	Subtotal     string `json:"subtotal"`
	ChargeTotal  string `json:"chargeTotal"`
	PaidTotal    string `json:"paidTotal"`
	Remaining    string `json:"remaining"`
	Change       string `json:"change"`
	Method       string `json:"method"`
	Installments int    `json:"installments"`
	State        string `json:"state"`
	Settleable   bool   `json:"settleable"`
}

type testEnv struct {
	router   chi.Router
	registry *session.Registry
	store    *events.MemoryStore
}

func newTestEnv(t *testing.T, schedule fees.Schedule, pixKey string) *testEnv {
	t.Helper()
	registry := session.NewRegistry(time.Hour)
	store := &events.MemoryStore{}
	handler := &checkout.Handler{
		Registry: registry,
		Schedule: func() (fees.Schedule, error) { return schedule, nil },
		Events:   &events.Bus{Store: store},
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
		Merchant: checkout.Merchant{
			Name:   "Mercadinho Ponto Certo",
			City:   "Sao Paulo",
			PixKey: pixKey,
		},
	}
	router := chi.NewRouter()
	router.Route("/api/v1", func(v chi.Router) {
		handler.Routes(v)
	})
	return &testEnv{router: router, registry: registry, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func openSession(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var opened struct {
		SessionID string `json:"sessionId"`
	}
	decodeData(t, rec, &opened)
	require.NotEmpty(t, opened.SessionID)
	return opened.SessionID
}

func TestCreditSaleEndToEnd(t *testing.T) {
	schedule := fees.Schedule{
		PassThroughEnabled: true,
		Rates:              map[tender.Method]int64{tender.Credit: 350},
	}
	env := newTestEnv(t, schedule, "loja@pontocerto.com.br")

	id := openSession(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"cafe","unitPrice":"25.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view sessionView
	decodeData(t, rec, &view)
	require.Equal(t, "25.50", view.Subtotal)
	require.Equal(t, 1, view.Lines[0].Qty, "qty defaults to one")

	rec = env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/tender",
		`{"method":"credit","installments":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Equal(t, "26.39", view.ChargeTotal)
	require.Equal(t, 2, view.Installments)
	require.Equal(t, "method_selected", view.State)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/tender/quote", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote struct {
		Remaining      string `json:"remaining"`
		Installments   int    `json:"installments"`
		PerInstallment string `json:"perInstallment"`
	}
	decodeData(t, rec, &quote)
	require.Equal(t, "26.39", quote.Remaining)
	require.Equal(t, 2, quote.Installments)
	require.Equal(t, "13.20", quote.PerInstallment)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/payments",
		`{"method":"credit","amount":"30.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var paid struct {
		Applied struct {
			Method string `json:"method"`
			Amount string `json:"amount"`
		} `json:"applied"`
		Session sessionView `json:"session"`
	}
	decodeData(t, rec, &paid)
	require.Equal(t, "26.39", paid.Applied.Amount, "card payment is clamped")
	require.True(t, paid.Session.Settleable)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Equal(t, "fully_settled", view.State)
	require.Equal(t, "0.00", view.Change)

	// Finalize closes the session.
	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	topics := make([]string, 0)
	for _, ev := range env.store.Recent(0) {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicSessionOpened)
	require.Contains(t, topics, events.TopicSaleSettled)
}

func TestCashSaleWithChange(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	id := openSession(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"pao","unitPrice":"7.25","qty":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/tender", `{"method":"cash"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/change?amount=10.00", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var change struct {
		Change string `json:"change"`
	}
	decodeData(t, rec, &change)
	require.Equal(t, "2.75", change.Change)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/payments",
		`{"method":"cash","amount":"10.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/finalize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view sessionView
	decodeData(t, rec, &view)
	require.Equal(t, "2.75", view.Change)
	require.Equal(t, "10.00", view.PaidTotal)
}

func TestCartMutations(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	id := openSession(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"leite","unitPrice":"4.50","qty":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/sessions/"+id+"/items/leite", `{"delta":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view sessionView
	decodeData(t, rec, &view)
	require.Equal(t, 3, view.Lines[0].Qty)
	require.Equal(t, "13.50", view.Subtotal)

	// Unknown product id is a silent no-op.
	rec = env.do(t, http.MethodPatch, "/api/v1/sessions/"+id+"/items/nope", `{"delta":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Len(t, view.Lines, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"acucar","unitPrice":"6.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/items/acucar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Len(t, view.Lines, 1)
	require.Equal(t, "leite", view.Lines[0].ProductID)

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Empty(t, view.Lines)
	require.Equal(t, "0.00", view.Subtotal)
}

func TestValidationErrors(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	id := openSession(t, env)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"missing product id", http.MethodPost, "/api/v1/sessions/" + id + "/items", `{"unitPrice":"1.00"}`},
		{"bad price", http.MethodPost, "/api/v1/sessions/" + id + "/items", `{"productId":"x","unitPrice":"1.999"}`},
		{"bad json", http.MethodPost, "/api/v1/sessions/" + id + "/items", `{`},
		{"unknown method", http.MethodPut, "/api/v1/sessions/" + id + "/tender", `{"method":"cheque"}`},
		{"too many installments", http.MethodPut, "/api/v1/sessions/" + id + "/tender", `{"method":"credit","installments":3}`},
		{"bad amount", http.MethodPost, "/api/v1/sessions/" + id + "/payments", `{"method":"cash","amount":"abc"}`},
		{"bad change amount", http.MethodGet, "/api/v1/sessions/" + id + "/change?amount=xyz", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "BAD_REQUEST", errorCode(t, rec))
		})
	}
}

func TestFinalizeConflicts(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	id := openSession(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/finalize", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"cafe","unitPrice":"25.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/finalize", "")
	require.Equal(t, http.StatusConflict, rec.Code, "unpaid sale cannot close")
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	rec := env.do(t, http.MethodGet, "/api/v1/sessions/missing/", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, fees.Schedule{}, "")
	id := openSession(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"cafe","unitPrice":"25.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view sessionView
	decodeData(t, rec, &view)
	require.Empty(t, view.Lines)
	require.Equal(t, "empty", view.State)

	topics := make([]string, 0)
	for _, ev := range env.store.Recent(0) {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicSessionReset)
}

func TestFeesRefresh(t *testing.T) {
	// The loader is swapped mid-test to simulate an edited fee file.
	current := fees.Schedule{}
	registry := session.NewRegistry(time.Hour)
	store := &events.MemoryStore{}
	handler := &checkout.Handler{
		Registry: registry,
		Schedule: func() (fees.Schedule, error) { return current, nil },
		Events:   &events.Bus{Store: store},
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
		Merchant: checkout.Merchant{Name: "Loja", City: "Recife"},
	}
	router := chi.NewRouter()
	router.Route("/api/v1", func(v chi.Router) { handler.Routes(v) })
	env := &testEnv{router: router, registry: registry, store: store}

	id := openSession(t, env)
	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
		`{"productId":"cafe","unitPrice":"25.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/tender", `{"method":"credit"}`)
	var view sessionView
	decodeData(t, rec, &view)
	require.Equal(t, "25.50", view.ChargeTotal, "no surcharge before refresh")

	current = fees.Schedule{
		PassThroughEnabled: true,
		Rates:              map[tender.Method]int64{tender.Credit: 350},
	}
	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/fees/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	require.Equal(t, "26.39", view.ChargeTotal)

	topics := make([]string, 0)
	for _, ev := range env.store.Recent(0) {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicFeesRefreshed)
}

func TestPixEndpoint(t *testing.T) {
	schedule := fees.Schedule{}

	t.Run("brcode with key", func(t *testing.T) {
		env := newTestEnv(t, schedule, "loja@pontocerto.com.br")
		id := openSession(t, env)
		rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
			`{"productId":"cafe","unitPrice":"25.50"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/tender", `{"method":"pix"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/pix", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Payload string `json:"payload"`
			Amount  string `json:"amount"`
		}
		decodeData(t, rec, &resp)
		require.True(t, strings.HasPrefix(resp.Payload, "000201"))
		require.Contains(t, resp.Payload, "540525.50")
		require.Equal(t, "25.50", resp.Amount)
	})

	t.Run("fallback without key", func(t *testing.T) {
		env := newTestEnv(t, schedule, "")
		id := openSession(t, env)
		rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/items",
			`{"productId":"cafe","unitPrice":"25.50"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/pix", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Payload string `json:"payload"`
		}
		decodeData(t, rec, &resp)
		require.Equal(t, "PIX MERCADINHO PONTO CERTO - Valor R$ 25,50", resp.Payload)
	})

	t.Run("unknown kind", func(t *testing.T) {
		env := newTestEnv(t, schedule, "chave")
		id := openSession(t, env)
		rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/pix?kind=static", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
