package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/frahmantamala/league-payments/internal"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
)

// Reader error codes the processor returns when a device cannot take a prompt.
var readerNotReadyCodes = map[string]bool{
	"terminal_reader_offline": true,
	"terminal_reader_busy":    true,
	"terminal_reader_timeout": true,
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the processor endpoint, e.g. for a local mock.
	APIURL  string
	Timeout time.Duration
}

// Client wraps the processor SDK. It performs exactly one network attempt per
// call; retry policy belongs to the caller.
type Client struct {
	api           *client.API
	webhookSecret string
	logger        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     &leveledLogger{logger: logger},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	return &Client{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// CreateCardPresentSession creates a card-present intent and hands it to the
// reader. If the reader refuses, the intent is cancelled so it cannot be
// collected later.
func (c *Client) CreateCardPresentSession(ctx context.Context, req gatewaytypes.SessionRequest) (*gatewaytypes.Session, error) {
	if err := req.Validate(); err != nil {
		c.logger.Error("gateway: session request validation failed", "error", err)
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountMinor),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String("automatic"),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	intent, err := c.api.PaymentIntents.New(params)
	if err != nil {
		c.logger.Error("gateway: failed to create payment intent", "error", err, "reader_id", req.ReaderID, "amount_minor", req.AmountMinor)
		return nil, mapError(err, "create payment intent", internal.ErrIntentNotFound)
	}

	readerParams := &stripe.TerminalReaderProcessPaymentIntentParams{
		PaymentIntent: stripe.String(intent.ID),
	}
	readerParams.Context = ctx
	if req.IdempotencyKey != "" {
		readerParams.IdempotencyKey = stripe.String(req.IdempotencyKey + "-reader")
	}
	if _, err := c.api.TerminalReaders.ProcessPaymentIntent(req.ReaderID, readerParams); err != nil {
		c.logger.Error("gateway: reader refused payment intent",
			"error", err,
			"reader_id", req.ReaderID,
			"intent_id", intent.ID)
		if cancelErr := c.Cancel(context.WithoutCancel(ctx), intent.ID); cancelErr != nil {
			c.logger.Warn("gateway: failed to cancel orphaned intent", "error", cancelErr, "intent_id", intent.ID)
		}
		return nil, mapError(err, "process payment intent", internal.ErrReaderNotFound)
	}

	c.logger.Info("gateway: card-present session started",
		"intent_id", intent.ID,
		"reader_id", req.ReaderID,
		"amount_minor", req.AmountMinor,
		"status", intent.Status)

	return &gatewaytypes.Session{
		IntentID:      intent.ID,
		InitialStatus: string(intent.Status),
		ReaderID:      req.ReaderID,
	}, nil
}

func (c *Client) GetPaymentResult(ctx context.Context, intentID string) (*gatewaytypes.PaymentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")
	params.Context = ctx

	intent, err := c.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		c.logger.Error("gateway: failed to fetch payment intent", "error", err, "intent_id", intentID)
		return nil, mapError(err, "get payment intent", internal.ErrIntentNotFound)
	}
	result := resultFromIntent(intent)
	return &result, nil
}

func (c *Client) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := c.api.PaymentIntents.Cancel(intentID, params); err != nil {
		c.logger.Error("gateway: failed to cancel payment intent", "error", err, "intent_id", intentID)
		return mapError(err, "cancel payment intent", internal.ErrIntentNotFound)
	}
	c.logger.Info("gateway: payment intent cancelled", "intent_id", intentID)
	return nil
}

// CancelReaderAction clears the prompt on the reader. A reader with nothing to
// cancel is not an error.
func (c *Client) CancelReaderAction(ctx context.Context, readerID string) error {
	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if _, err := c.api.TerminalReaders.CancelAction(readerID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && string(stripeErr.Code) == "terminal_reader_action_not_allowed" {
			c.logger.Debug("gateway: reader had no action to cancel", "reader_id", readerID)
			return nil
		}
		c.logger.Error("gateway: failed to cancel reader action", "error", err, "reader_id", readerID)
		return mapError(err, "cancel reader action", internal.ErrReaderNotFound)
	}
	c.logger.Info("gateway: reader action cancelled", "reader_id", readerID)
	return nil
}

func (c *Client) ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error) {
	params := &stripe.TerminalReaderListParams{}
	params.Context = ctx

	var readers []gatewaytypes.Reader
	iter := c.api.TerminalReaders.List(params)
	for iter.Next() {
		readers = append(readers, toReader(iter.TerminalReader()))
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("gateway: failed to list readers", "error", err)
		return nil, mapError(err, "list readers", internal.ErrReaderNotFound)
	}
	return readers, nil
}

func (c *Client) GetReader(ctx context.Context, readerID string) (*gatewaytypes.Reader, error) {
	params := &stripe.TerminalReaderParams{}
	params.Context = ctx
	r, err := c.api.TerminalReaders.Get(readerID, params)
	if err != nil {
		return nil, mapError(err, "get reader", internal.ErrReaderNotFound)
	}
	reader := toReader(r)
	return &reader, nil
}

// ParseWebhook verifies the signature header against the configured secret
// before decoding anything. Without a secret every event is rejected.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (*gatewaytypes.WebhookEvent, error) {
	if c.webhookSecret == "" {
		return nil, internal.ErrSignatureInvalid.WithMessage("webhook secret is not configured")
	}
	if err := webhook.ValidatePayload(payload, signatureHeader, c.webhookSecret); err != nil {
		return nil, internal.ErrSignatureInvalid.WithCause(err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, internal.NewValidationError("malformed webhook payload", internal.ErrCodeValidationFailed).WithCause(err)
	}

	out := &gatewaytypes.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if strings.HasPrefix(out.Type, "payment_intent.") && event.Data != nil {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, internal.NewValidationError("malformed payment intent in webhook", internal.ErrCodeValidationFailed).WithCause(err)
		}
		result := resultFromIntent(&intent)
		out.Result = &result
	}
	return out, nil
}

// Normalize folds a processor intent status into an outcome. A card-present
// intent waits in requires_payment_method until a card is presented, so that
// status only counts as failed once the processor recorded a payment error.
func Normalize(status stripe.PaymentIntentStatus, hasPaymentError bool) gatewaytypes.Outcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return gatewaytypes.OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return gatewaytypes.OutcomeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if hasPaymentError {
			return gatewaytypes.OutcomeFailed
		}
	}
	return gatewaytypes.OutcomePending
}

func resultFromIntent(intent *stripe.PaymentIntent) gatewaytypes.PaymentResult {
	result := gatewaytypes.PaymentResult{
		IntentID:    intent.ID,
		Status:      string(intent.Status),
		Outcome:     Normalize(intent.Status, intent.LastPaymentError != nil),
		AmountMinor: intent.Amount,
		Currency:    string(intent.Currency),
		Metadata:    intent.Metadata,
	}

	switch {
	case intent.LastPaymentError != nil:
		result.FailureReason = intent.LastPaymentError.Msg
		if result.FailureReason == "" {
			result.FailureReason = string(intent.LastPaymentError.Code)
		}
	case intent.Status == stripe.PaymentIntentStatusCanceled:
		result.FailureReason = "canceled"
		if intent.CancellationReason != "" {
			result.FailureReason = "canceled: " + string(intent.CancellationReason)
		}
	}

	if charge := intent.LatestCharge; charge != nil {
		result.ChargeID = charge.ID
		result.ReceiptURL = charge.ReceiptURL
		if details := charge.PaymentMethodDetails; details != nil && details.CardPresent != nil {
			card := details.CardPresent
			result.CardBrand = string(card.Brand)
			result.Last4 = card.Last4
			if card.Receipt != nil {
				result.AuthCode = card.Receipt.AuthorizationCode
			}
		}
	}
	return result
}

func toReader(r *stripe.TerminalReader) gatewaytypes.Reader {
	reader := gatewaytypes.Reader{
		ID:         r.ID,
		Label:      r.Label,
		Status:     string(r.Status),
		DeviceType: string(r.DeviceType),
	}
	if r.Location != nil {
		reader.Location = r.Location.DisplayName
		if reader.Location == "" {
			reader.Location = r.Location.ID
		}
	}
	if r.Action != nil && r.Action.Status == stripe.TerminalReaderActionStatusInProgress {
		reader.Busy = true
	}
	return reader
}

// mapError turns SDK errors into the service taxonomy. Network failures,
// rate limits, auth failures and 5xx are transient; notFound is used for
// resource_missing.
func mapError(err error, op string, notFound *internal.AppError) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return internal.ErrGatewayUnavailable.WithMessage("%s: %v", op, err).WithCause(err)
	}

	code := string(stripeErr.Code)
	switch {
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		return internal.ErrGatewayUnavailable.WithMessage("%s: processor returned %d", op, stripeErr.HTTPStatusCode).WithCause(err)
	case code == string(stripe.ErrorCodeResourceMissing):
		return notFound.WithCause(err)
	case readerNotReadyCodes[code]:
		return internal.ErrReaderNotReady.
			WithMessage("terminal reader is not ready: %s", stripeErr.Msg).
			WithDetails(map[string]string{"reader_error": code}).
			WithCause(err)
	}
	return internal.ErrGatewayRejected.WithMessage("%s: %s", op, stripeErr.Msg).WithCause(err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, internal.ErrGatewayUnavailable)
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}

