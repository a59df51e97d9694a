package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	"github.com/frahmantamala/league-payments/internal/ledger/ledgertest"
)

func TestLedger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ledger Suite")
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var _ = Describe("Ledger Service", func() {
	var (
		repo    *ledgertest.Memory
		service *ledgerService.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = ledgertest.NewMemory()
		service = ledgerService.NewService(repo, logger)
		ctx = context.Background()
	})

	cashKey := func(playerID int64) ledgerService.Key {
		return ledgerService.Key{
			PlayerID:      playerID,
			DivisionID:    3,
			PaymentType:   ledger.PaymentTypeCash,
			PricingTier:   ledger.TierRegular,
			OriginalPrice: d("150.00"),
		}
	}

	Describe("FindOrCreate", func() {
		It("creates a pending record on first use and reuses it afterwards", func() {
			// Given
			first, created, err := service.FindOrCreate(ctx, cashKey(1))
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(first.Status).To(Equal(ledger.StatusPending))

			// When
			second, created, err := service.FindOrCreate(ctx, cashKey(1))

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("rejects an unknown pricing tier", func() {
			key := cashKey(1)
			key.PricingTier = "LATE"

			_, _, err := service.FindOrCreate(ctx, key)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Details.(internal.ValidationErrors).Errors[0].Code).To(Equal(string(internal.ErrCodeInvalidPricingTier)))
		})

		It("rejects a non-positive price", func() {
			key := cashKey(1)
			key.OriginalPrice = decimal.Zero

			_, _, err := service.FindOrCreate(ctx, key)
			Expect(err).To(HaveOccurred())
		})

		It("wraps repository failures", func() {
			repo.SetShouldFail(errors.New("connection reset"))

			_, _, err := service.FindOrCreate(ctx, cashKey(1))
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
		})
	})

	Describe("Mutate", func() {
		It("writes the change and bumps the version", func() {
			// Given
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))

			// When
			updated, changed, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.Status = ledger.StatusCompleted
				pm.AmountPaid = pm.OriginalPrice
				return nil
			})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(updated.Version).To(Equal(pm.Version + 1))

			stored, _ := service.Get(ctx, pm.ID)
			Expect(stored.Status).To(Equal(ledger.StatusCompleted))
		})

		It("skips the write when the mutation reports no change", func() {
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))

			_, changed, err := service.Mutate(ctx, pm.ID, func(*ledger.PaymentMethod) error {
				return ledgerService.ErrNoChange
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(repo.Swaps()).To(Equal(0))
		})

		It("refuses to move a completed record", func() {
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))
			_, _, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.Status = ledger.StatusCompleted
				pm.AmountPaid = pm.OriginalPrice
				return nil
			})
			Expect(err).ToNot(HaveOccurred())

			_, changed, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.Status = ledger.StatusPending
				return nil
			})

			Expect(changed).To(BeFalse())
			Expect(errors.Is(err, internal.ErrInvalidTransition)).To(BeTrue())
			stored, _ := service.Get(ctx, pm.ID)
			Expect(stored.Status).To(Equal(ledger.StatusCompleted))
		})

		It("rejects writes that would overpay a fixed-price channel", func() {
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))

			_, _, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.AmountPaid = d("151.00")
				return nil
			})

			Expect(err).To(MatchError(ContainSubstring("exceeds")))
		})

		It("re-applies the mutation after losing a conditional update", func() {
			// Given
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))
			repo.ConflictNext(2)
			calls := 0

			// When
			_, changed, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				calls++
				pm.Status = ledger.StatusInProgress
				return nil
			})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(calls).To(Equal(3))
		})

		It("gives up after repeated conflicts", func() {
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))
			repo.ConflictNext(100)

			_, _, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.Status = ledger.StatusInProgress
				return nil
			})

			Expect(errors.Is(err, internal.ErrConcurrentUpdate)).To(BeTrue())
		})

		It("lets exactly one of many concurrent completions win", func() {
			pm, _, _ := service.FindOrCreate(ctx, cashKey(1))

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, changed, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
						if pm.Status == ledger.StatusCompleted {
							return ledgerService.ErrNoChange
						}
						pm.Status = ledger.StatusCompleted
						pm.AmountPaid = pm.OriginalPrice
						return nil
					})
					Expect(err).ToNot(HaveOccurred())
					if changed {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(winners).To(Equal(1))
			Expect(repo.Swaps()).To(Equal(1))
		})
	})

	Describe("Installment plans", func() {
		var plan *ledger.PaymentMethod

		BeforeEach(func() {
			due := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
			var err error
			plan, err = service.CreateInstallmentPlan(ctx, ledgerService.PlanParams{
				PlayerID:       9,
				DivisionID:     3,
				PricingTier:    ledger.TierEarlyBird,
				SubscriptionID: "sub_1",
				Schedule: []ledgerService.ScheduledInstallment{
					{InvoiceID: "in_1", AmountDue: d("100.00"), DueDate: &due},
					{InvoiceID: "in_2", AmountDue: d("100.00"), DueDate: &due},
					{InvoiceID: "in_3", AmountDue: d("100.00"), DueDate: &due},
					{InvoiceID: "in_4", AmountDue: d("100.00"), DueDate: &due},
				},
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("derives the total from the schedule", func() {
			Expect(plan.Plan().TotalAmountDue.Equal(d("400"))).To(BeTrue())
			Expect(plan.Plan().RemainingBalance.Equal(d("400"))).To(BeTrue())
			Expect(plan.Status).To(Equal(ledger.StatusInProgress))
		})

		It("keeps remaining plus paid equal to the total through every settlement", func() {
			now := time.Now()
			for _, invoice := range []string{"in_1", "in_2", "in_4"} {
				_, _, err := service.Mutate(ctx, plan.ID, func(pm *ledger.PaymentMethod) error {
					return ledgerService.SettleInstallment(pm, invoice, d("100.00"), now, "")
				})
				Expect(err).ToNot(HaveOccurred())

				stored, _ := service.Get(ctx, plan.ID)
				p := stored.Plan()
				Expect(p.RemainingBalance.Add(stored.AmountPaid).Equal(p.TotalAmountDue)).To(BeTrue())
			}

			_, _, err := service.Mutate(ctx, plan.ID, func(pm *ledger.PaymentMethod) error {
				return ledgerService.FailInstallment(pm, "in_3", now)
			})
			Expect(err).ToNot(HaveOccurred())

			failed, err := service.ListPlansWithFailures(ctx, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(failed).To(HaveLen(1))
			Expect(ledgerService.FailedInstallments(failed[0])[0].InvoiceID).To(Equal("in_3"))

			stored, _ := service.Get(ctx, plan.ID)
			Expect(stored.Status).To(Equal(ledger.StatusInProgress))
			Expect(stored.Plan().RemainingBalance.Equal(d("100"))).To(BeTrue())
		})

		It("completes once every installment has succeeded", func() {
			now := time.Now()
			for _, invoice := range []string{"in_1", "in_2", "in_3", "in_4"} {
				_, _, err := service.Mutate(ctx, plan.ID, func(pm *ledger.PaymentMethod) error {
					return ledgerService.SettleInstallment(pm, invoice, d("100.00"), now, "")
				})
				Expect(err).ToNot(HaveOccurred())
			}

			stored, _ := service.Get(ctx, plan.ID)
			Expect(stored.Status).To(Equal(ledger.StatusCompleted))
			Expect(ledgerService.IsSettled(stored)).To(BeTrue())
		})

		It("refuses to settle an installment twice", func() {
			now := time.Now()
			settle := func(pm *ledger.PaymentMethod) error {
				return ledgerService.SettleInstallment(pm, "in_1", d("100.00"), now, "")
			}
			_, _, err := service.Mutate(ctx, plan.ID, settle)
			Expect(err).ToNot(HaveOccurred())

			_, _, err = service.Mutate(ctx, plan.ID, settle)
			Expect(errors.Is(err, internal.ErrAlreadyPaid)).To(BeTrue())
		})

		It("rejects an empty schedule", func() {
			_, err := service.CreateInstallmentPlan(ctx, ledgerService.PlanParams{PlayerID: 1, PricingTier: ledger.TierRegular})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ListInFlightTerminal", func() {
		It("returns only processing attempts older than the cutoff", func() {
			key := cashKey(5)
			key.PaymentType = ledger.PaymentTypeTerminal
			pm, _, _ := service.FindOrCreate(ctx, key)
			_, _, err := service.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
				pm.SetTerminal(ledger.TerminalPayment{PaymentIntentID: "pi_1", Status: ledger.TerminalProcessing, Amount: pm.OriginalPrice})
				pm.Status = ledger.StatusInProgress
				return nil
			})
			Expect(err).ToNot(HaveOccurred())

			fresh, err := service.ListInFlightTerminal(ctx, time.Now().Add(-time.Minute), 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh).To(BeEmpty())

			repo.Backdate(pm.ID, time.Hour)
			stale, err := service.ListInFlightTerminal(ctx, time.Now().Add(-time.Minute), 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(stale).To(HaveLen(1))
		})
	})
})

var _ = Describe("Ledger rules", func() {
	It("allows the retry path and forbids leaving COMPLETED", func() {
		Expect(ledgerService.CanTransition(ledger.StatusFailed, ledger.StatusInProgress)).To(BeTrue())
		Expect(ledgerService.CanTransition(ledger.StatusPending, ledger.StatusInProgress)).To(BeTrue())
		Expect(ledgerService.CanTransition(ledger.StatusInProgress, ledger.StatusPending)).To(BeTrue())
		Expect(ledgerService.CanTransition(ledger.StatusCompleted, ledger.StatusFailed)).To(BeFalse())
		Expect(ledgerService.CanTransition(ledger.StatusCompleted, ledger.StatusInProgress)).To(BeFalse())
		Expect(ledgerService.CanTransition(ledger.StatusCompleted, ledger.StatusCompleted)).To(BeTrue())
	})

	It("accumulates e-transfer events without merging them", func() {
		// Given
		pm := &ledger.PaymentMethod{
			ID:            1,
			PaymentType:   ledger.PaymentTypeETransfer,
			OriginalPrice: d("100.00"),
			Status:        ledger.StatusPending,
		}

		// When
		Expect(ledgerService.AppendETransfer(pm, ledger.ETransferPayment{TransactionID: "t1", Amount: d("50.00")})).To(Succeed())
		Expect(pm.Status).To(Equal(ledger.StatusInProgress))
		Expect(ledgerService.AppendETransfer(pm, ledger.ETransferPayment{TransactionID: "t2", Amount: d("60.00")})).To(Succeed())

		// Then
		Expect(pm.AmountPaid.Equal(d("110.00"))).To(BeTrue())
		Expect(pm.Status).To(Equal(ledger.StatusCompleted))
		Expect(pm.ETransferPayments).To(HaveLen(2))
		Expect(ledgerService.CheckInvariants(pm)).To(Succeed())
	})

	It("refuses to append a transfer to another channel", func() {
		pm := &ledger.PaymentMethod{PaymentType: ledger.PaymentTypeCash}
		Expect(ledgerService.AppendETransfer(pm, ledger.ETransferPayment{Amount: d("1")})).ToNot(Succeed())
	})

	It("treats any settled method as paid", func() {
		pending := &ledger.PaymentMethod{PaymentType: ledger.PaymentTypeTerminal, Status: ledger.StatusPending, OriginalPrice: d("10")}
		done := &ledger.PaymentMethod{PaymentType: ledger.PaymentTypeCash, Status: ledger.StatusCompleted, OriginalPrice: d("10"), AmountPaid: d("10")}

		Expect(ledgerService.AnySettled([]*ledger.PaymentMethod{pending})).To(BeFalse())
		Expect(ledgerService.AnySettled([]*ledger.PaymentMethod{pending, done})).To(BeTrue())
	})
})
