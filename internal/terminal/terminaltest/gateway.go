// Package terminaltest provides an in-memory processor for orchestrator tests.
package terminaltest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/frahmantamala/league-payments/internal"
	gatewaytypes "github.com/frahmantamala/league-payments/internal/core/datamodel/paymentgateway"
)

// Operation names accepted by FailNext and Calls.
const (
	OpCreateSession      = "create_session"
	OpGetPaymentResult   = "get_payment_result"
	OpCancel             = "cancel"
	OpCancelReaderAction = "cancel_reader_action"
	OpListReaders        = "list_readers"
	OpGetReader          = "get_reader"
)

type Gateway struct {
	mu       sync.Mutex
	readers  map[string]gatewaytypes.Reader
	results  map[string]gatewaytypes.PaymentResult
	sessions []gatewaytypes.SessionRequest
	failures map[string][]error
	calls    map[string]int
	cleared  []string
	nextID   int
}

func NewGateway() *Gateway {
	return &Gateway{
		readers:  make(map[string]gatewaytypes.Reader),
		results:  make(map[string]gatewaytypes.PaymentResult),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (g *Gateway) AddReader(r gatewaytypes.Reader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.readers[r.ID] = r
}

// FailNext queues errors returned by the next calls of op, in order.
func (g *Gateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], errs...)
}

func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) Sessions() []gatewaytypes.SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewaytypes.SessionRequest(nil), g.sessions...)
}

// ClearedReaders lists readers whose action was cancelled.
func (g *Gateway) ClearedReaders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cleared...)
}

// Succeed completes intentID as if the card was approved.
func (g *Gateway) Succeed(intentID string) gatewaytypes.PaymentResult {
	return g.update(intentID, func(r *gatewaytypes.PaymentResult) {
		r.Status = "succeeded"
		r.Outcome = gatewaytypes.OutcomeSucceeded
		r.ChargeID = "ch_" + intentID
		r.CardBrand = "visa"
		r.Last4 = "4242"
		r.ReceiptURL = "https://pay.example.test/receipts/" + intentID
		r.AuthCode = "A1B2C3"
	})
}

// Decline fails intentID with reason.
func (g *Gateway) Decline(intentID, reason string) gatewaytypes.PaymentResult {
	return g.update(intentID, func(r *gatewaytypes.PaymentResult) {
		r.Status = "requires_payment_method"
		r.Outcome = gatewaytypes.OutcomeFailed
		r.FailureReason = reason
	})
}

// Forget drops intentID so lookups report it missing.
func (g *Gateway) Forget(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.results, intentID)
}

func (g *Gateway) Result(intentID string) gatewaytypes.PaymentResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.results[intentID]
}

func (g *Gateway) update(intentID string, fn func(r *gatewaytypes.PaymentResult)) gatewaytypes.PaymentResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.results[intentID]
	r.IntentID = intentID
	fn(&r)
	g.results[intentID] = r
	return r
}

func (g *Gateway) enter(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if queued := g.failures[op]; len(queued) > 0 {
		g.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (g *Gateway) CreateCardPresentSession(ctx context.Context, req gatewaytypes.SessionRequest) (*gatewaytypes.Session, error) {
	if err := g.enter(OpCreateSession); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, internal.ErrGatewayRejected.WithCause(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.readers[req.ReaderID]; !ok {
		return nil, internal.ErrReaderNotFound
	}
	g.nextID++
	intentID := fmt.Sprintf("pi_test_%d", g.nextID)
	g.sessions = append(g.sessions, req)
	g.results[intentID] = gatewaytypes.PaymentResult{
		IntentID:    intentID,
		Status:      "requires_payment_method",
		Outcome:     gatewaytypes.OutcomePending,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	}
	return &gatewaytypes.Session{IntentID: intentID, InitialStatus: "requires_payment_method", ReaderID: req.ReaderID}, nil
}

func (g *Gateway) GetPaymentResult(ctx context.Context, intentID string) (*gatewaytypes.PaymentResult, error) {
	if err := g.enter(OpGetPaymentResult); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.results[intentID]
	if !ok {
		return nil, internal.ErrIntentNotFound
	}
	return &r, nil
}

func (g *Gateway) Cancel(ctx context.Context, intentID string) error {
	if err := g.enter(OpCancel); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.results[intentID]
	if !ok {
		return internal.ErrIntentNotFound
	}
	r.Status = "canceled"
	r.Outcome = gatewaytypes.OutcomeFailed
	r.FailureReason = "canceled"
	g.results[intentID] = r
	return nil
}

func (g *Gateway) CancelReaderAction(ctx context.Context, readerID string) error {
	if err := g.enter(OpCancelReaderAction); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.readers[readerID]; !ok {
		return internal.ErrReaderNotFound
	}
	g.cleared = append(g.cleared, readerID)
	return nil
}

func (g *Gateway) ListReaders(ctx context.Context) ([]gatewaytypes.Reader, error) {
	if err := g.enter(OpListReaders); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	readers := make([]gatewaytypes.Reader, 0, len(g.readers))
	for _, r := range g.readers {
		readers = append(readers, r)
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].ID < readers[j].ID })
	return readers, nil
}

func (g *Gateway) GetReader(ctx context.Context, readerID string) (*gatewaytypes.Reader, error) {
	if err := g.enter(OpGetReader); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.readers[readerID]
	if !ok {
		return nil, internal.ErrReaderNotFound
	}
	return &r, nil
}
