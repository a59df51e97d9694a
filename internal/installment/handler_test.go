package installment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/datatypes"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/installment"
	"github.com/frahmantamala/league-payments/internal/terminal"
)

type mockInstallmentService struct {
	retryErr    error
	recordErr   error
	lastRetry   installment.RetryRequest
	lastCharge  installment.ScheduledCharge
	lastLimit   int
	plans       []*ledger.PaymentMethod
	recordReply *ledger.PaymentMethod
}

func (m *mockInstallmentService) RetryFailedInstallment(ctx context.Context, req installment.RetryRequest) (*terminal.InitiateResult, error) {
	m.lastRetry = req
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	return &terminal.InitiateResult{PaymentMethodID: req.PaymentMethodID, IntentID: "pi_1", ReaderID: req.ReaderID}, nil
}

func (m *mockInstallmentService) RecordScheduledCharge(ctx context.Context, charge installment.ScheduledCharge) (*ledger.PaymentMethod, error) {
	m.lastCharge = charge
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	return m.recordReply, nil
}

func (m *mockInstallmentService) ListPlansWithFailures(ctx context.Context, limit int) ([]*ledger.PaymentMethod, error) {
	m.lastLimit = limit
	return m.plans, nil
}

var _ = Describe("Handler", func() {
	var (
		service  *mockInstallmentService
		router   chi.Router
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &mockInstallmentService{recordReply: &ledger.PaymentMethod{ID: 7, Status: ledger.StatusInProgress}}
		h := installment.NewHandler(service, logger)
		router = chi.NewRouter()
		router.Get("/installments/failed", h.ListFailed)
		router.Post("/installments/{paymentMethodId}/invoices/{invoiceId}/retry", h.Retry)
		router.Post("/installments/{paymentMethodId}/invoices/{invoiceId}/result", h.RecordResult)
		recorder = httptest.NewRecorder()
	})

	It("starts a retry from the path and body", func() {
		// Given
		req := httptest.NewRequest(http.MethodPost, "/installments/7/invoices/in_3/retry", bytes.NewBufferString(`{"readerId":"tmr_1"}`))

		// When
		router.ServeHTTP(recorder, req)

		// Then
		Expect(recorder.Code).To(Equal(http.StatusAccepted))
		Expect(service.lastRetry).To(Equal(installment.RetryRequest{PaymentMethodID: 7, InvoiceID: "in_3", ReaderID: "tmr_1"}))
	})

	It("rejects a non-numeric payment method id", func() {
		req := httptest.NewRequest(http.MethodPost, "/installments/abc/invoices/in_3/retry", bytes.NewBufferString(`{"readerId":"tmr_1"}`))

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps an already paid installment to 409", func() {
		service.retryErr = internal.ErrAlreadyPaid

		req := httptest.NewRequest(http.MethodPost, "/installments/7/invoices/in_1/retry", bytes.NewBufferString(`{"readerId":"tmr_1"}`))
		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusConflict))
	})

	It("records a scheduled charge result", func() {
		req := httptest.NewRequest(http.MethodPost, "/installments/7/invoices/in_2/result", bytes.NewBufferString(`{"succeeded":true,"amount":"100.00"}`))

		router.ServeHTTP(recorder, req)

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastCharge.PaymentMethodID).To(Equal(int64(7)))
		Expect(service.lastCharge.InvoiceID).To(Equal("in_2"))
		Expect(service.lastCharge.Succeeded).To(BeTrue())
		Expect(service.lastCharge.Amount.StringFixed(2)).To(Equal("100.00"))
	})

	It("summarises plans with failed installments", func() {
		// Given
		pm := &ledger.PaymentMethod{ID: 7, PlayerID: 100, DivisionID: 10, Status: ledger.StatusInProgress}
		pm.Installments = datatypes.NewJSONType(ledger.Installments{
			SubscriptionPayments: []ledger.SubscriptionPayment{
				{PaymentNumber: 1, InvoiceID: "in_1", Status: ledger.InstallmentSucceeded, AmountDue: d("100.00"), AmountPaid: d("100.00")},
				{PaymentNumber: 2, InvoiceID: "in_2", Status: ledger.InstallmentFailed, AmountDue: d("100.00")},
			},
			TotalAmountDue:   d("200.00"),
			RemainingBalance: d("100.00"),
		})
		service.plans = []*ledger.PaymentMethod{pm}

		// When
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/installments/failed?limit=10", nil))

		// Then
		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastLimit).To(Equal(10))
		var body struct {
			Plans []installment.PlanSummary `json:"plans"`
		}
		Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Plans).To(HaveLen(1))
		Expect(body.Plans[0].PaymentMethodID).To(Equal(int64(7)))
		Expect(body.Plans[0].Failed).To(HaveLen(1))
		Expect(body.Plans[0].Failed[0].InvoiceID).To(Equal("in_2"))
	})

	It("uses the default limit and returns an empty list", func() {
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/installments/failed", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastLimit).To(Equal(50))
		Expect(recorder.Body.String()).To(ContainSubstring(`"plans":[]`))
	})

	It("rejects an out of range limit", func() {
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/installments/failed?limit=9000", nil))

		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})
})
