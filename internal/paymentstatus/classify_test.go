package paymentstatus_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	"github.com/frahmantamala/league-payments/internal/ledger/ledgertest"
	"github.com/frahmantamala/league-payments/internal/paymentstatus"
	playerService "github.com/frahmantamala/league-payments/internal/player"
	"github.com/frahmantamala/league-payments/internal/player/playertest"
)

func TestPaymentStatus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Status Suite")
}

var (
	now   = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	grace = 7 * 24 * time.Hour

	noDeadline *time.Time
)

func day(offset int) *time.Time {
	t := now.AddDate(0, 0, offset)
	return &t
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func plan(id int64, payments ...ledger.SubscriptionPayment) *ledger.PaymentMethod {
	total, paid := decimal.Zero, decimal.Zero
	for i := range payments {
		payments[i].PaymentNumber = i + 1
		payments[i].AmountDue = amount("100.00")
		total = total.Add(payments[i].AmountDue)
		if payments[i].Status == ledger.InstallmentSucceeded {
			payments[i].AmountPaid = payments[i].AmountDue
			paid = paid.Add(payments[i].AmountPaid)
		}
	}
	status := ledger.StatusInProgress
	if paid.Equal(total) {
		status = ledger.StatusCompleted
	}
	pm := &ledger.PaymentMethod{
		ID:            id,
		PlayerID:      100,
		PaymentType:   ledger.PaymentTypeInstallments,
		OriginalPrice: total,
		AmountPaid:    paid,
		Status:        status,
	}
	pm.Installments = datatypes.NewJSONType(ledger.Installments{
		SubscriptionPayments: payments,
		TotalAmountDue:       total,
		RemainingBalance:     total.Sub(paid),
	})
	return pm
}

func paid(due *time.Time) ledger.SubscriptionPayment {
	return ledger.SubscriptionPayment{Status: ledger.InstallmentSucceeded, DueDate: due}
}

func pending(due *time.Time) ledger.SubscriptionPayment {
	return ledger.SubscriptionPayment{Status: ledger.InstallmentPending, DueDate: due}
}

func failed(due *time.Time) ledger.SubscriptionPayment {
	return ledger.SubscriptionPayment{Status: ledger.InstallmentFailed, DueDate: due, FailedAt: due}
}

func completed(id int64, paymentType ledger.PaymentType) *ledger.PaymentMethod {
	return &ledger.PaymentMethod{
		ID:            id,
		PlayerID:      100,
		PaymentType:   paymentType,
		OriginalPrice: amount("113.00"),
		AmountPaid:    amount("113.00"),
		Status:        ledger.StatusCompleted,
	}
}

var _ = Describe("Classify", func() {
	DescribeTable("derives one status from the ledger",
		func(methods []*ledger.PaymentMethod, deadline *time.Time, want paymentstatus.Status) {
			Expect(paymentstatus.Classify(methods, deadline, now, grace).Status).To(Equal(want))
		},
		Entry("no methods", []*ledger.PaymentMethod{}, noDeadline, paymentstatus.StatusUnpaid),
		Entry("terminal attempt still in progress",
			[]*ledger.PaymentMethod{{ID: 1, PaymentType: ledger.PaymentTypeTerminal, OriginalPrice: amount("113.00"), Status: ledger.StatusInProgress}},
			noDeadline, paymentstatus.StatusUnpaid),
		Entry("completed terminal payment",
			[]*ledger.PaymentMethod{completed(1, ledger.PaymentTypeTerminal)}, noDeadline, paymentstatus.StatusPaid),
		Entry("completed cash wins over a failing plan",
			[]*ledger.PaymentMethod{plan(1, failed(day(-30))), completed(2, ledger.PaymentTypeCash)}, noDeadline, paymentstatus.StatusPaid),
		Entry("completed plan", []*ledger.PaymentMethod{plan(1, paid(day(-60)), paid(day(-30)))}, noDeadline, paymentstatus.StatusPaid),
		Entry("plan with future installments", []*ledger.PaymentMethod{plan(1, paid(day(-10)), pending(day(20)))}, noDeadline, paymentstatus.StatusOnTrack),
		Entry("recent failure", []*ledger.PaymentMethod{plan(1, paid(day(-30)), failed(day(-2)), pending(day(28)))}, noDeadline, paymentstatus.StatusHasIssues),
		Entry("failure past the grace period", []*ledger.PaymentMethod{plan(1, failed(day(-10)), pending(day(20)))}, noDeadline, paymentstatus.StatusCritical),
		Entry("pending installment just past due", []*ledger.PaymentMethod{plan(1, paid(day(-30)), pending(day(-1)))}, noDeadline, paymentstatus.StatusHasIssues),
		Entry("pending installment long overdue", []*ledger.PaymentMethod{plan(1, pending(day(-40)))}, noDeadline, paymentstatus.StatusCritical),
		Entry("undated installments use the division deadline",
			[]*ledger.PaymentMethod{plan(1, pending(nil))}, day(-14), paymentstatus.StatusCritical),
		Entry("undated installments before the deadline",
			[]*ledger.PaymentMethod{plan(1, pending(nil))}, day(14), paymentstatus.StatusOnTrack),
	)

	It("counts issues and reports the next due date", func() {
		// Given
		methods := []*ledger.PaymentMethod{plan(1, paid(day(-60)), failed(day(-3)), pending(day(-1)), pending(day(27)))}

		// When
		c := paymentstatus.Classify(methods, nil, now, grace)

		// Then
		Expect(c.Status).To(Equal(paymentstatus.StatusHasIssues))
		Expect(c.FailedInstallments).To(Equal(1))
		Expect(c.OverdueInstallments).To(Equal(1))
		Expect(*c.OldestIssue).To(Equal(*day(-3)))
		Expect(*c.NextDueDate).To(Equal(*day(27)))
	})

	It("names the method that settled the player", func() {
		c := paymentstatus.Classify([]*ledger.PaymentMethod{completed(9, ledger.PaymentTypeETransfer)}, nil, now, grace)

		Expect(c.PaidBy).ToNot(BeNil())
		Expect(*c.PaidBy).To(Equal(int64(9)))
	})
})

var _ = Describe("Service and Handler", func() {
	var (
		ledgerRepo *ledgertest.Memory
		players    *playertest.Memory
		router     chi.Router
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		ledgerRepo = ledgertest.NewMemory()
		players = playertest.NewMemory()
		players.AddDivision(player.Division{ID: 10, Name: "Calgary A"})
		players.AddPlayer(player.Player{ID: 100, FirstName: "Ari", DivisionID: 10})

		service := paymentstatus.NewService(ledgerRepo, playerService.NewService(players, logger), grace, logger)
		h := paymentstatus.NewHandler(service, logger)
		router = chi.NewRouter()
		router.Get("/players/{playerId}/payment-status", h.GetPlayerStatus)
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("classifies a player from their stored methods", func() {
		// Given
		ledgerRepo.Put(completed(0, ledger.PaymentTypeCash))
		Expect(players.SetHasPaid(context.Background(), 100, true)).To(Succeed())

		// When
		rec := get("/players/100/payment-status")

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"paid"`))
		Expect(rec.Body.String()).To(ContainSubstring(`"hasPaid":true`))
	})

	It("reports unpaid for a player without methods", func() {
		rec := get("/players/100/payment-status")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"unpaid"`))
	})

	It("answers 404 for an unknown player", func() {
		Expect(get("/players/999/payment-status").Code).To(Equal(http.StatusNotFound))
	})

	It("rejects a malformed player id", func() {
		Expect(get("/players/abc/payment-status").Code).To(Equal(http.StatusBadRequest))
	})
})
