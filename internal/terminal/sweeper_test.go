package terminal_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/terminal"
	"github.com/frahmantamala/league-payments/internal/terminal/terminaltest"
)

var _ = Describe("Sweeper", func() {
	var (
		f       *fixture
		ctx     context.Context
		sweeper *terminal.Sweeper
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
		sweeper = terminal.NewSweeper(f.orchestrator, terminal.SweepConfig{Workers: 2, StaleAfter: 10 * time.Minute}, f.logger)
	})

	It("reconciles stale attempts whose webhook never arrived", func() {
		// Given
		paid, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())
		waiting, err := f.orchestrator.Initiate(ctx, initiateFor(101))
		Expect(err).ToNot(HaveOccurred())
		lost, err := f.orchestrator.Initiate(ctx, initiateFor(102))
		Expect(err).ToNot(HaveOccurred())

		f.gateway.Succeed(paid.IntentID)
		f.gateway.Forget(lost.IntentID)
		for _, id := range []int64{paid.PaymentMethodID, waiting.PaymentMethodID, lost.PaymentMethodID} {
			f.ledgerRepo.Backdate(id, time.Hour)
		}

		// When
		report, err := sweeper.Sweep(ctx)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Scanned).To(Equal(3))
		Expect(report.Reconciled).To(Equal(2))
		Expect(report.StillPending).To(Equal(1))

		pm, _ := f.ledgers.Get(ctx, paid.PaymentMethodID)
		Expect(pm.Status).To(Equal(ledger.StatusCompleted))
		Expect(f.players.HasPaid(100)).To(BeTrue())

		pm, _ = f.ledgers.Get(ctx, lost.PaymentMethodID)
		Expect(pm.Status).To(Equal(ledger.StatusPending))
		Expect(pm.Terminal().FailureReason).To(ContainSubstring("no longer exists"))

		pm, _ = f.ledgers.Get(ctx, waiting.PaymentMethodID)
		Expect(pm.Status).To(Equal(ledger.StatusInProgress))
	})

	It("skips attempts younger than the stale window", func() {
		_, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())

		report, err := sweeper.Sweep(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Scanned).To(Equal(0))
	})

	It("counts attempts it could not reach the processor for", func() {
		started, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())
		f.ledgerRepo.Backdate(started.PaymentMethodID, time.Hour)
		f.gateway.FailNext(terminaltest.OpGetPaymentResult,
			internal.ErrGatewayUnavailable, internal.ErrGatewayUnavailable, internal.ErrGatewayUnavailable)

		report, err := sweeper.Sweep(ctx)

		Expect(err).ToNot(HaveOccurred())
		Expect(report.Failed).To(Equal(1))
	})

	It("reports a listing failure", func() {
		f.ledgerRepo.SetShouldFail(internal.NewInternalError("db down", nil))

		_, err := sweeper.Sweep(ctx)

		Expect(err).To(HaveOccurred())
	})
})
