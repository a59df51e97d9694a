package manual_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/manual"
)

type mockManualService struct {
	cashErr     error
	undoErr     error
	lastCash    manual.CashRequest
	lastUndo    int64
	lastBatch   manual.ETransferRequest
	batchResult *manual.ETransferResult
}

func (m *mockManualService) MarkCashPaid(ctx context.Context, req manual.CashRequest) (*ledger.PaymentMethod, error) {
	m.lastCash = req
	if m.cashErr != nil {
		return nil, m.cashErr
	}
	return &ledger.PaymentMethod{ID: 1, PlayerID: req.PlayerID, PaymentType: ledger.PaymentTypeCash, Status: ledger.StatusCompleted}, nil
}

func (m *mockManualService) UndoCashPayment(ctx context.Context, playerID int64) (*manual.UndoResult, error) {
	m.lastUndo = playerID
	if m.undoErr != nil {
		return nil, m.undoErr
	}
	return &manual.UndoResult{PlayerID: playerID, PaymentMethodID: 1}, nil
}

func (m *mockManualService) MarkETransferPaid(ctx context.Context, req manual.ETransferRequest) (*manual.ETransferResult, error) {
	m.lastBatch = req
	return m.batchResult, nil
}

var _ = Describe("Handler", func() {
	var (
		service  *mockManualService
		router   chi.Router
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = &mockManualService{batchResult: &manual.ETransferResult{TransactionID: "tx_1", Succeeded: 2}}
		h := manual.NewHandler(service, logger)
		router = chi.NewRouter()
		router.Post("/payments/cash", h.MarkCashPaid)
		router.Delete("/payments/cash/{playerId}", h.UndoCashPayment)
		router.Post("/payments/etransfer", h.MarkETransferPaid)
		recorder = httptest.NewRecorder()
	})

	It("records cash", func() {
		body := `{"playerId":100,"amount":"100.00","pricingTier":"REGULAR","notes":"front desk"}`

		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/payments/cash", bytes.NewBufferString(body)))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastCash.PlayerID).To(Equal(int64(100)))
		Expect(service.lastCash.Amount.StringFixed(2)).To(Equal("100.00"))
		Expect(service.lastCash.Notes).To(Equal("front desk"))
	})

	It("maps a repeated cash payment to 409", func() {
		service.cashErr = internal.ErrAlreadyPaid

		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/payments/cash", bytes.NewBufferString(`{"playerId":100}`)))

		Expect(recorder.Code).To(Equal(http.StatusConflict))
	})

	It("undoes a cash payment by player", func() {
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/payments/cash/100", nil))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastUndo).To(Equal(int64(100)))
	})

	It("maps a missing cash record to 404", func() {
		service.undoErr = internal.ErrPaymentMethodNotFound

		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/payments/cash/100", nil))

		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})

	It("answers 200 when the whole batch was recorded", func() {
		body := `{"cityId":1,"payments":[{"playerId":100,"amount":"50.00","pricingTier":"REGULAR"},{"playerId":101,"amount":"50.00","pricingTier":"REGULAR"}]}`

		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/payments/etransfer", bytes.NewBufferString(body)))

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(service.lastBatch.Payments).To(HaveLen(2))
		Expect(service.lastBatch.CityID).To(Equal(int64(1)))
	})

	It("answers 207 when some players failed", func() {
		// Given
		service.batchResult = &manual.ETransferResult{
			TransactionID: "tx_1",
			Succeeded:     1,
			Failed:        1,
			Results: []manual.ETransferOutcome{
				{PlayerID: 100, Status: ledger.StatusCompleted},
				{PlayerID: 999, Error: internal.ErrPlayerNotFound},
			},
		}

		// When
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/payments/etransfer", bytes.NewBufferString(`{"cityId":1,"payments":[]}`)))

		// Then
		Expect(recorder.Code).To(Equal(http.StatusMultiStatus))
		Expect(recorder.Body.String()).To(ContainSubstring(`"PLAYER_NOT_FOUND"`))
	})
})
