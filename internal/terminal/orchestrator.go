package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/common/validation"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/league-payments/internal/core/events"
	"github.com/frahmantamala/league-payments/internal/core/money"
	ledgerService "github.com/frahmantamala/league-payments/internal/ledger"
	"github.com/frahmantamala/league-payments/internal/paymentgateway"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

const (
	defaultCurrency       = "cad"
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 200 * time.Millisecond
)

type Config struct {
	Currency string
	// MaxAttempts bounds every gateway call, first try included.
	MaxAttempts    int
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	c.Currency = strings.ToLower(c.Currency)
	return c
}

// Orchestrator starts card-present charges and folds their results into the
// ledger. Poll, webhook and sweep deliveries all go through Reconcile.
type Orchestrator struct {
	gateway      Gateway
	ledger       *ledgerService.Service
	players      PlayerStore
	publisher    events.Publisher
	installments InstallmentApplier
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewOrchestrator(gateway Gateway, ledgers *ledgerService.Service, players PlayerStore, publisher events.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:   gateway,
		ledger:    ledgers,
		players:   players,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInstallmentApplier routes results of installment repair attempts
// to the installment engine.
func (o *Orchestrator) RegisterInstallmentApplier(applier InstallmentApplier) {
	o.installments = applier
}

// Call runs fn under the gateway retry policy. Only transient gateway
// failures are retried.
func (o *Orchestrator) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logger.Scoped(ctx, o.logger)
	backoff := retry.WithMaxRetries(uint64(o.cfg.MaxAttempts-1), retry.NewExponential(o.cfg.InitialBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && paymentgateway.IsTransient(err) {
			log.Debug("terminal: transient gateway failure", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && paymentgateway.IsTransient(err) {
		log.Error("terminal: gateway call failed after retries", "op", op, "attempts", attempt, "error", err)
	}
	return err
}

func (req *InitiateRequest) validate() error {
	v := validation.NewValidator()
	v.Field("player_id", req.PlayerID).Required()
	v.Field("reader_id", req.ReaderID).Required()
	v.Field("amount", req.Amount).Amount()
	v.Field("pricing_tier", string(req.PricingTier)).
		OneOf(internal.ErrCodeInvalidPricingTier, string(ledger.TierEarlyBird), string(ledger.TierRegular))
	if req.PaymentMethodID != 0 {
		v.Field("invoice_id", req.InvoiceID).Required()
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Initiate pushes a new charge to a reader and records it as the current
// terminal attempt. It returns without waiting for the card.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logger.Scoped(ctx, o.logger)
	if err := req.validate(); err != nil {
		return nil, err
	}

	p, err := o.players.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}
	divisionID := req.DivisionID
	if divisionID == 0 {
		divisionID = p.DivisionID
	}
	channel := ledger.PaymentTypeTerminal
	if req.PaymentMethodID != 0 {
		channel = ledger.PaymentTypeInstallments
	}
	if err := o.ledger.EnsureUnpaid(ctx, p.ID, channel); err != nil {
		return nil, err
	}

	var reader *gatewaytypes.Reader
	err = o.Call(ctx, "get_reader", func(ctx context.Context) error {
		var callErr error
		reader, callErr = o.gateway.GetReader(ctx, req.ReaderID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if !reader.Ready() {
		return nil, internal.ErrReaderNotReady.
			WithMessage("terminal reader %s is %s", reader.ID, readerState(reader)).
			WithDetails(map[string]interface{}{"readerId": reader.ID, "status": reader.Status, "busy": reader.Busy})
	}

	pm, err := o.target(ctx, req, divisionID)
	if err != nil {
		return nil, err
	}
	if err := checkTarget(pm, req); err != nil {
		return nil, err
	}

	pm, err = o.settlePriorAttempt(ctx, pm)
	if err != nil {
		return nil, err
	}
	if err := checkTarget(pm, req); err != nil {
		return nil, err
	}
	priorIntent := pm.Terminal().PaymentIntentID

	amountMinor := money.ToMinorUnits(req.Amount)
	sessionReq := gatewaytypes.SessionRequest{
		ReaderID:    reader.ID,
		AmountMinor: amountMinor,
		Currency:    o.cfg.Currency,
		Description: req.Description,
		Metadata: map[string]string{
			gatewaytypes.MetadataPaymentMethodID: strconv.FormatInt(pm.ID, 10),
			gatewaytypes.MetadataPlayerID:        strconv.FormatInt(p.ID, 10),
			gatewaytypes.MetadataPaymentType:     string(pm.PaymentType),
		},
		IdempotencyKey: uuid.NewString(),
	}
	if req.InvoiceID != "" {
		sessionReq.Metadata[gatewaytypes.MetadataInvoiceID] = req.InvoiceID
	}
	if sessionReq.Description == "" {
		sessionReq.Description = fmt.Sprintf("League registration for %s", p.FullName())
		if req.InvoiceID != "" {
			sessionReq.Description = fmt.Sprintf("Installment %s for %s", req.InvoiceID, p.FullName())
		}
	}

	var session *gatewaytypes.Session
	err = o.Call(ctx, "create_session", func(ctx context.Context) error {
		var callErr error
		session, callErr = o.gateway.CreateCardPresentSession(ctx, sessionReq)
		return callErr
	})
	if err != nil {
		log.Error("terminal: failed to start reader session", "error", err, "payment_method_id", pm.ID, "reader_id", reader.ID)
		return nil, err
	}

	startedAt := o.now()
	updated, _, err := o.ledger.Mutate(ctx, pm.ID, func(pm *ledger.PaymentMethod) error {
		if err := checkTarget(pm, req); err != nil {
			return err
		}
		current := pm.Terminal()
		if current.PaymentIntentID != priorIntent && current.Status == ledger.TerminalProcessing {
			return internal.ErrDoubleSubmission.WithDetails(map[string]string{"intentId": current.PaymentIntentID})
		}
		pm.SetTerminal(ledger.TerminalPayment{
			PaymentIntentID: session.IntentID,
			Amount:          money.Round2(req.Amount),
			ReaderID:        reader.ID,
			ReaderLabel:     reader.Label,
			Status:          ledger.TerminalProcessing,
			InvoiceID:       req.InvoiceID,
			StartedAt:       startedAt,
		})
		if pm.PaymentType == ledger.PaymentTypeTerminal {
			pm.OriginalPrice = money.Round2(req.Amount)
			pm.PricingTier = req.PricingTier
			pm.Status = ledger.StatusInProgress
		}
		return nil
	})
	if err != nil {
		log.Error("terminal: failed to record reader session, cancelling it",
			"error", err, "payment_method_id", pm.ID, "intent_id", session.IntentID)
		o.abandon(ctx, session.IntentID, reader.ID)
		return nil, err
	}

	log.Info("terminal: charge sent to reader",
		"payment_method_id", updated.ID,
		"player_id", updated.PlayerID,
		"intent_id", session.IntentID,
		"reader_id", reader.ID,
		"amount_minor", amountMinor,
		"invoice_id", req.InvoiceID)

	return &InitiateResult{
		PaymentMethodID: updated.ID,
		IntentID:        session.IntentID,
		ReaderID:        reader.ID,
		ReaderLabel:     reader.Label,
		Amount:          money.Round2(req.Amount),
		AmountMinor:     amountMinor,
		Status:          updated.Status,
	}, nil
}

func (o *Orchestrator) target(ctx context.Context, req InitiateRequest, divisionID int64) (*ledger.PaymentMethod, error) {
	if req.PaymentMethodID != 0 {
		pm, err := o.ledger.Get(ctx, req.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		if pm.PlayerID != req.PlayerID {
			return nil, internal.ErrPaymentMethodNotFound.WithMessage(
				"payment method %d does not belong to player %d", pm.ID, req.PlayerID)
		}
		return pm, nil
	}
	pm, _, err := o.ledger.FindOrCreate(ctx, ledgerService.Key{
		PlayerID:      req.PlayerID,
		DivisionID:    divisionID,
		PaymentType:   ledger.PaymentTypeTerminal,
		PricingTier:   req.PricingTier,
		OriginalPrice: req.Amount,
	})
	return pm, err
}

func checkTarget(pm *ledger.PaymentMethod, req InitiateRequest) error {
	if req.PaymentMethodID == 0 {
		if pm.Status == ledger.StatusCompleted {
			return internal.ErrAlreadyPaid.WithMessage("player %d has already paid by terminal", pm.PlayerID)
		}
		return nil
	}
	if pm.PaymentType != ledger.PaymentTypeInstallments {
		return internal.NewValidationError(
			fmt.Sprintf("payment method %d is %s, not INSTALLMENTS", pm.ID, pm.PaymentType),
			internal.ErrCodeInvalidPaymentType)
	}
	plan := pm.Plan()
	idx := ledgerService.FindInstallment(plan, req.InvoiceID)
	if idx < 0 {
		return internal.ErrInstallmentNotFound.WithMessage("installment %s not found on payment method %d", req.InvoiceID, pm.ID)
	}
	if plan.SubscriptionPayments[idx].Status == ledger.InstallmentSucceeded {
		return internal.ErrAlreadyPaid.WithMessage("installment %s is already paid", req.InvoiceID)
	}
	return nil
}

// settlePriorAttempt makes sure no other prompt is live for pm. A prior
// attempt that already finished at the processor is reconciled first.
func (o *Orchestrator) settlePriorAttempt(ctx context.Context, pm *ledger.PaymentMethod) (*ledger.PaymentMethod, error) {
	log := logger.Scoped(ctx, o.logger)
	prior := pm.Terminal()
	if prior.PaymentIntentID == "" || prior.Status != ledger.TerminalProcessing {
		return pm, nil
	}

	var result *gatewaytypes.PaymentResult
	err := o.Call(ctx, "get_payment_result", func(ctx context.Context) error {
		var callErr error
		result, callErr = o.gateway.GetPaymentResult(ctx, prior.PaymentIntentID)
		return callErr
	})
	switch {
	case errors.Is(err, internal.ErrIntentNotFound):
		log.Warn("terminal: prior intent unknown to the processor, replacing it",
			"payment_method_id", pm.ID, "intent_id", prior.PaymentIntentID)
		return pm, nil
	case err != nil:
		return nil, err
	}

	if !result.Outcome.Terminal() {
		return nil, internal.ErrDoubleSubmission.
			WithMessage("terminal attempt %s is still %s", prior.PaymentIntentID, result.Status).
			WithDetails(map[string]string{"intentId": prior.PaymentIntentID, "readerId": prior.ReaderID})
	}

	rec, err := o.Reconcile(ctx, *result, SourceInitiate)
	if err != nil {
		return nil, err
	}
	if rec.PaymentMethod != nil {
		return rec.PaymentMethod, nil
	}
	return o.ledger.Get(ctx, pm.ID)
}

// abandon stops a session the ledger failed to record. Best effort.
func (o *Orchestrator) abandon(ctx context.Context, intentID, readerID string) {
	ctx = context.WithoutCancel(ctx)
	log := logger.Scoped(ctx, o.logger)
	if err := o.gateway.CancelReaderAction(ctx, readerID); err != nil {
		log.Warn("terminal: failed to clear reader", "error", err, "reader_id", readerID)
	}
	if err := o.gateway.Cancel(ctx, intentID); err != nil {
		log.Warn("terminal: failed to cancel unrecorded intent", "error", err, "intent_id", intentID)
	}
}

// Reconcile merges one processor result into the ledger. Calling it again
// with the same result, or with results in any order, leaves the ledger as
// the first applicable call did.
func (o *Orchestrator) Reconcile(ctx context.Context, result gatewaytypes.PaymentResult, source string) (*Reconciliation, error) {
	log := logger.Scoped(ctx, o.logger).With("intent_id", result.IntentID, "source", source)

	pm, err := o.ledger.GetByIntent(ctx, result.IntentID)
	if errors.Is(err, internal.ErrPaymentMethodNotFound) {
		log.Warn("terminal: result for unknown intent discarded", "gateway_status", result.Status)
		return &Reconciliation{Result: result}, nil
	}
	if err != nil {
		return nil, err
	}

	if pm.PaymentType == ledger.PaymentTypeInstallments || pm.Terminal().InvoiceID != "" {
		if o.installments == nil {
			return nil, internal.NewInternalError("installment result received but no engine is registered", nil)
		}
		return o.installments.ApplyTerminalResult(ctx, result, source)
	}

	var anomaly, backfilled bool
	at := o.now()
	updated, changed, err := o.ledger.MutateByIntent(ctx, result.IntentID, func(pm *ledger.PaymentMethod) error {
		anomaly, backfilled = false, false
		if pm.Status == ledger.StatusCompleted {
			anomaly = result.Outcome == gatewaytypes.OutcomeFailed
			if next, ok := fillChargeDetails(pm.Terminal(), result); ok {
				pm.SetTerminal(next)
				backfilled = true
				return nil
			}
			return ledgerService.ErrNoChange
		}
		next, ok := ApplyResult(pm.Terminal(), result, at)
		if !ok {
			return ledgerService.ErrNoChange
		}
		pm.SetTerminal(next)
		if result.Outcome == gatewaytypes.OutcomeSucceeded {
			pm.AmountPaid = pm.OriginalPrice
			pm.Status = ledger.StatusCompleted
		} else {
			pm.Status = ledger.StatusPending
		}
		return nil
	})
	if errors.Is(err, internal.ErrPaymentMethodNotFound) {
		log.Warn("terminal: intent vanished during reconciliation", "gateway_status", result.Status)
		return &Reconciliation{Result: result}, nil
	}
	if err != nil {
		log.Error("terminal: reconciliation failed", "error", err)
		return nil, err
	}

	rec := &Reconciliation{PaymentMethod: updated, Result: result, Known: true, Applied: changed, Anomaly: anomaly}
	tp := updated.Terminal()
	if charged := money.FromMinorUnits(result.AmountMinor); result.AmountMinor != 0 && !charged.Equal(money.Round2(tp.Amount)) {
		log.Warn("terminal: processor amount differs from the recorded attempt",
			"payment_method_id", updated.ID,
			"gateway_amount", charged.StringFixed(2),
			"recorded_amount", tp.Amount.StringFixed(2))
	}

	switch {
	case anomaly:
		log.Warn("terminal: failure reported for a completed payment, ledger left unchanged",
			"payment_method_id", updated.ID,
			"player_id", updated.PlayerID,
			"gateway_status", result.Status)
		o.publish(ctx, events.NewPaymentAnomalyEvent(updated.ID, updated.PlayerID, result.IntentID,
			string(updated.Status), result.Status, source))
	case backfilled:
		log.Info("terminal: charge details recorded for a completed payment",
			"payment_method_id", updated.ID,
			"charge_id", tp.ChargeID)
		if err := o.players.SetHasPaid(ctx, updated.PlayerID, true); err != nil {
			return rec, fmt.Errorf("mark player %d paid: %w", updated.PlayerID, err)
		}
	case changed && updated.Status == ledger.StatusCompleted:
		log.Info("terminal: payment completed",
			"payment_method_id", updated.ID,
			"player_id", updated.PlayerID,
			"amount_paid", updated.AmountPaid.StringFixed(2))
		if err := o.players.SetHasPaid(ctx, updated.PlayerID, true); err != nil {
			return rec, fmt.Errorf("mark player %d paid: %w", updated.PlayerID, err)
		}
		o.publish(ctx, events.NewPaymentCompletedEvent(updated.ID, updated.PlayerID, string(updated.PaymentType),
			money.ToMinorUnits(updated.AmountPaid), events.ChannelTerminal, result.IntentID))
	case changed:
		log.Info("terminal: payment failed, eligible for retry",
			"payment_method_id", updated.ID,
			"player_id", updated.PlayerID,
			"reason", tp.FailureReason)
		o.publish(ctx, events.NewPaymentFailedEvent(updated.ID, updated.PlayerID, result.IntentID, "", tp.FailureReason))
	case updated.Status == ledger.StatusCompleted && result.Outcome == gatewaytypes.OutcomeSucceeded:
		// duplicate delivery; the cached flag may have missed the first write
		if err := o.players.SetHasPaid(ctx, updated.PlayerID, true); err != nil {
			return rec, fmt.Errorf("mark player %d paid: %w", updated.PlayerID, err)
		}
	}
	return rec, nil
}

// PollStatus fetches the live processor result and reconciles it before
// returning.
func (o *Orchestrator) PollStatus(ctx context.Context, intentID string) (*PaymentStatus, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, internal.NewValidationFieldError("intent_id", "intent_id is required", internal.ErrCodeValidationFailed)
	}
	var result *gatewaytypes.PaymentResult
	err := o.Call(ctx, "get_payment_result", func(ctx context.Context) error {
		var callErr error
		result, callErr = o.gateway.GetPaymentResult(ctx, intentID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	rec, err := o.Reconcile(ctx, *result, SourcePoll)
	if err != nil {
		return nil, err
	}
	return newPaymentStatus(rec), nil
}

var handledEvents = map[string]bool{
	"payment_intent.succeeded":      true,
	"payment_intent.payment_failed": true,
	"payment_intent.canceled":       true,
}

// HandleEvent reconciles a verified webhook event. Other event types are
// acknowledged and ignored.
func (o *Orchestrator) HandleEvent(ctx context.Context, event *gatewaytypes.WebhookEvent) (*Reconciliation, error) {
	log := logger.Scoped(ctx, o.logger)
	if event == nil || event.Result == nil || !handledEvents[event.Type] {
		if event != nil {
			log.Debug("terminal: webhook event ignored", "event_id", event.ID, "event_type", event.Type)
		}
		return nil, nil
	}

	result := *event.Result
	if result.Outcome == gatewaytypes.OutcomeSucceeded && !hasChargeDetails(result) {
		// event payloads carry latest_charge as a bare id
		var full *gatewaytypes.PaymentResult
		err := o.Call(ctx, "get_payment_result", func(ctx context.Context) error {
			var callErr error
			full, callErr = o.gateway.GetPaymentResult(ctx, result.IntentID)
			return callErr
		})
		if err == nil && full.Outcome == gatewaytypes.OutcomeSucceeded {
			result = *full
		} else if err != nil {
			log.Warn("terminal: could not expand webhook charge details", "error", err, "intent_id", result.IntentID)
		}
	}

	log.Info("terminal: webhook received", "event_id", event.ID, "event_type", event.Type, "intent_id", result.IntentID)
	return o.Reconcile(ctx, result, SourceWebhook)
}

// Cancel clears the reader and cancels the intent. The ledger follows when
// the cancellation is reconciled.
func (o *Orchestrator) Cancel(ctx context.Context, intentID, readerID string) error {
	log := logger.Scoped(ctx, o.logger)
	if strings.TrimSpace(intentID) == "" {
		return internal.NewValidationFieldError("intent_id", "intent_id is required", internal.ErrCodeValidationFailed)
	}
	if readerID == "" {
		pm, err := o.ledger.GetByIntent(ctx, intentID)
		if err != nil && !errors.Is(err, internal.ErrPaymentMethodNotFound) {
			return err
		}
		if pm != nil {
			readerID = pm.Terminal().ReaderID
		}
	}
	if readerID == "" {
		return internal.NewValidationFieldError("reader_id", "reader_id is required for an unknown intent", internal.ErrCodeValidationFailed)
	}

	err := o.Call(ctx, "cancel_reader_action", func(ctx context.Context) error {
		return o.gateway.CancelReaderAction(ctx, readerID)
	})
	if err != nil {
		return err
	}
	err = o.Call(ctx, "cancel_intent", func(ctx context.Context) error {
		return o.gateway.Cancel(ctx, intentID)
	})
	if err != nil {
		return err
	}
	log.Info("terminal: charge cancelled", "intent_id", intentID, "reader_id", readerID)
	return nil
}

func (o *Orchestrator) ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error) {
	var readers []gatewaytypes.Reader
	err := o.Call(ctx, "list_readers", func(ctx context.Context) error {
		var callErr error
		readers, callErr = o.gateway.ListReaders(ctx)
		return callErr
	})
	return readers, err
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		logger.Scoped(ctx, o.logger).Error("terminal: failed to publish event", "error", err, "event_type", event.EventType())
	}
}

func readerState(r *gatewaytypes.Reader) string {
	if r.Busy {
		return "busy"
	}
	return r.Status
}
