package terminal_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/terminal"
)

type mockTerminalService struct {
	initiateErr   error
	pollErr       error
	cancelErr     error
	eventErr      error
	lastInitiate  terminal.InitiateRequest
	lastCancel    [2]string
	events        []*gatewaytypes.WebhookEvent
	initiateReply *terminal.InitiateResult
	pollReply     *terminal.PaymentStatus
}

func (m *mockTerminalService) Initiate(ctx context.Context, req terminal.InitiateRequest) (*terminal.InitiateResult, error) {
	m.lastInitiate = req
	if m.initiateErr != nil {
		return nil, m.initiateErr
	}
	return m.initiateReply, nil
}

func (m *mockTerminalService) PollStatus(ctx context.Context, intentID string) (*terminal.PaymentStatus, error) {
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	reply := *m.pollReply
	reply.IntentID = intentID
	return &reply, nil
}

func (m *mockTerminalService) Cancel(ctx context.Context, intentID, readerID string) error {
	m.lastCancel = [2]string{intentID, readerID}
	return m.cancelErr
}

func (m *mockTerminalService) ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error) {
	return nil, nil
}

func (m *mockTerminalService) HandleEvent(ctx context.Context, event *gatewaytypes.WebhookEvent) (*terminal.Reconciliation, error) {
	m.events = append(m.events, event)
	return nil, m.eventErr
}

const testWebhookSecret = "whsec_handler_secret"

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body.Error.Code
}

var _ = Describe("Handler", func() {
	var (
		service  *mockTerminalService
		router   chi.Router
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &mockTerminalService{
			initiateReply: &terminal.InitiateResult{PaymentMethodID: 1, IntentID: "pi_1", Status: ledger.StatusInProgress},
			pollReply:     &terminal.PaymentStatus{Outcome: gatewaytypes.OutcomePending, LedgerStatus: ledger.StatusInProgress},
		}
		h := terminal.NewHandler(service, logger)
		router = chi.NewRouter()
		router.Get("/terminal/readers", h.ListReaders)
		router.Post("/terminal/payments", h.Initiate)
		router.Get("/terminal/payments/{intentId}", h.GetPayment)
		router.Post("/terminal/payments/{intentId}/cancel", h.CancelPayment)
		recorder = httptest.NewRecorder()
	})

	It("accepts an initiate request", func() {
		// Given
		body := `{"playerId":100,"readerId":"tmr_1","amount":"113.00","pricingTier":"EARLY_BIRD"}`
		req := httptest.NewRequest(http.MethodPost, "/terminal/payments", bytes.NewBufferString(body))

		// When
		router.ServeHTTP(recorder, req)

		// Then
		Expect(recorder.Code).To(Equal(http.StatusAccepted))
		Expect(service.lastInitiate.PlayerID).To(Equal(int64(100)))
		Expect(service.lastInitiate.Amount.StringFixed(2)).To(Equal("113.00"))
		Expect(service.lastInitiate.PricingTier).To(Equal(ledger.TierEarlyBird))
	})

	It("maps a reader that is not ready to 409", func() {
		service.initiateErr = internal.ErrReaderNotReady
		req := httptest.NewRequest(http.MethodPost, "/terminal/payments", bytes.NewBufferString(`{"playerId":1}`))

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(recorder)).To(Equal(string(internal.ErrCodeReaderNotReady)))
	})

	It("rejects a malformed body", func() {
		req := httptest.NewRequest(http.MethodPost, "/terminal/payments", bytes.NewBufferString(`{"playerId":`))

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns the reconciled payment status", func() {
		req := httptest.NewRequest(http.MethodGet, "/terminal/payments/pi_42", nil)

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		var status terminal.PaymentStatus
		Expect(json.Unmarshal(recorder.Body.Bytes(), &status)).To(Succeed())
		Expect(status.IntentID).To(Equal("pi_42"))
	})

	It("maps an unavailable gateway to 503", func() {
		service.pollErr = internal.ErrGatewayUnavailable
		req := httptest.NewRequest(http.MethodGet, "/terminal/payments/pi_42", nil)

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("passes the reader through on cancel", func() {
		req := httptest.NewRequest(http.MethodPost, "/terminal/payments/pi_42/cancel", bytes.NewBufferString(`{"readerId":"tmr_1"}`))

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastCancel).To(Equal([2]string{"pi_42", "tmr_1"}))
	})

	It("accepts a cancel without a body", func() {
		req := httptest.NewRequest(http.MethodPost, "/terminal/payments/pi_42/cancel", nil)

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastCancel[1]).To(BeEmpty())
	})

	It("always returns a readers array", func() {
		req := httptest.NewRequest(http.MethodGet, "/terminal/readers", nil)

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(ContainSubstring(`"readers":[]`))
	})
})

var _ = Describe("WebhookHandler", func() {
	var (
		service  *mockTerminalService
		handler  *terminal.WebhookHandler
		recorder *httptest.ResponseRecorder
		payload  []byte
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &mockTerminalService{}
		parser := paymentgateway.NewClient(paymentgateway.Config{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret}, logger)
		handler = terminal.NewWebhookHandler(parser, service, logger)
		recorder = httptest.NewRecorder()
		payload = []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":11300,"currency":"cad"}}}`)
	})

	post := func(body []byte, signature string) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/terminal", bytes.NewReader(body))
		req.Header.Set(terminal.SignatureHeader, signature)
		handler.HandleTerminalWebhook(recorder, req)
	}

	It("acknowledges a verified event", func() {
		// When
		post(payload, signPayload(payload, testWebhookSecret))

		// Then
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(MatchJSON(`{"received":true}`))
		Expect(service.events).To(HaveLen(1))
		Expect(service.events[0].Type).To(Equal("payment_intent.succeeded"))
		Expect(service.events[0].Result.IntentID).To(Equal("pi_1"))
		Expect(service.events[0].Result.Outcome).To(Equal(gatewaytypes.OutcomeSucceeded))
	})

	It("rejects a bad signature with 400 without reconciling", func() {
		post(payload, signPayload(payload, "whsec_wrong"))

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(recorder)).To(Equal(string(internal.ErrCodeSignatureInvalid)))
		Expect(service.events).To(BeEmpty())
	})

	It("rejects a missing signature", func() {
		post(payload, "")

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("asks the processor to redeliver when reconciliation fails", func() {
		service.eventErr = errors.New("database unavailable")

		post(payload, signPayload(payload, testWebhookSecret))

		Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
	})
})
