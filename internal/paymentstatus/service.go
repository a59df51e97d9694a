package paymentstatus

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/league-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

const defaultGracePeriod = 7 * 24 * time.Hour

type PlayerStore interface {
	PlayerWithDivision(ctx context.Context, playerID int64) (*player.Player, *player.Division, error)
}

type LedgerReader interface {
	ListByPlayer(ctx context.Context, playerID int64) ([]*ledger.PaymentMethod, error)
}

// PlayerStatus pairs the derived classification with the cached hasPaid flag.
type PlayerStatus struct {
	PlayerID int64 `json:"playerId"`
	Classification
	HasPaid bool `json:"hasPaid"`
}

type Service struct {
	ledger  LedgerReader
	players PlayerStore
	grace   time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(ledgers LedgerReader, players PlayerStore, grace time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &Service{
		ledger:  ledgers,
		players: players,
		grace:   grace,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) PlayerPaymentStatus(ctx context.Context, playerID int64) (*PlayerStatus, error) {
	p, div, err := s.players.PlayerWithDivision(ctx, playerID)
	if err != nil {
		return nil, err
	}
	methods, err := s.ledger.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}

	c := Classify(methods, div.PaymentDeadline, s.now(), s.grace)
	if (c.Status == StatusPaid) != p.PaymentStatusHasPaid {
		logger.Scoped(ctx, s.logger).Warn("paymentstatus: cached hasPaid disagrees with the ledger",
			"player_id", playerID,
			"has_paid", p.PaymentStatusHasPaid,
			"derived_status", c.Status)
	}
	return &PlayerStatus{PlayerID: playerID, Classification: c, HasPaid: p.PaymentStatusHasPaid}, nil
}
