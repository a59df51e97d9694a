package terminal_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/terminal/terminaltest"
)

func succeededPayload(intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_%[1]s","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":%[1]q,"object":"payment_intent","amount":11300,"currency":"cad",
		"status":"succeeded","latest_charge":"ch_%[1]s"}}}`, intentID))
}

var _ = Describe("Webhook charge details", func() {
	var (
		f      *fixture
		ctx    context.Context
		parser *paymentgateway.Client
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
		parser = paymentgateway.NewClient(paymentgateway.Config{SecretKey: "sk_test_unused", WebhookSecret: testWebhookSecret}, f.logger)
	})

	It("records card details when the signed event carries only the charge id", func() {
		// Given
		started, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())
		f.gateway.Succeed(started.IntentID)
		payload := succeededPayload(started.IntentID)

		event, err := parser.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		Expect(err).ToNot(HaveOccurred())
		Expect(event.Result.ChargeID).To(Equal("ch_" + started.IntentID))
		Expect(event.Result.CardBrand).To(BeEmpty())

		// When
		rec, err := f.orchestrator.HandleEvent(ctx, event)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.PaymentMethod.Status).To(Equal(ledger.StatusCompleted))
		tp := rec.PaymentMethod.Terminal()
		Expect(tp.ChargeID).To(Equal("ch_" + started.IntentID))
		Expect(tp.CardBrand).To(Equal("visa"))
		Expect(tp.CardLast4).To(Equal("4242"))
		Expect(tp.ReceiptURL).ToNot(BeEmpty())
		Expect(tp.AuthorizationCode).To(Equal("A1B2C3"))
		Expect(f.gateway.Calls(terminaltest.OpGetPaymentResult)).To(Equal(1))
	})

	It("expands a charge id without card details", func() {
		started, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())
		f.gateway.Succeed(started.IntentID)
		partial := gatewaytypes.PaymentResult{
			IntentID: started.IntentID,
			Status:   "succeeded",
			Outcome:  gatewaytypes.OutcomeSucceeded,
			ChargeID: "ch_" + started.IntentID,
		}

		rec, err := f.orchestrator.HandleEvent(ctx, &gatewaytypes.WebhookEvent{ID: "evt_3", Type: "payment_intent.succeeded", Result: &partial})

		Expect(err).ToNot(HaveOccurred())
		Expect(rec.PaymentMethod.Terminal().CardLast4).To(Equal("4242"))
	})

	It("fills missing details on a later poll without completing the payment twice", func() {
		// Given the expansion fails while the webhook is handled
		started, err := f.orchestrator.Initiate(ctx, initiateFor(100))
		Expect(err).ToNot(HaveOccurred())
		f.gateway.Succeed(started.IntentID)
		f.gateway.FailNext(terminaltest.OpGetPaymentResult,
			internal.ErrGatewayUnavailable, internal.ErrGatewayUnavailable, internal.ErrGatewayUnavailable)
		payload := succeededPayload(started.IntentID)
		event, err := parser.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
		Expect(err).ToNot(HaveOccurred())

		rec, err := f.orchestrator.HandleEvent(ctx, event)
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.PaymentMethod.Status).To(Equal(ledger.StatusCompleted))
		Expect(rec.PaymentMethod.Terminal().CardLast4).To(BeEmpty())

		// When
		status, err := f.orchestrator.PollStatus(ctx, started.IntentID)

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(status.LedgerStatus).To(Equal(ledger.StatusCompleted))
		pm, err := f.ledgers.Get(ctx, started.PaymentMethodID)
		Expect(err).ToNot(HaveOccurred())
		Expect(pm.Terminal().CardBrand).To(Equal("visa"))
		Expect(pm.Terminal().CardLast4).To(Equal("4242"))
		Expect(pm.AmountPaid.StringFixed(2)).To(Equal("113.00"))

		f.bus.Wait()
		Expect(f.completed.Load()).To(Equal(int32(1)))
	})
})
