package player

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
)

// RepositoryAPI is the slice of the registration data this service reads,
// plus the cached hasPaid flag it owns.
type RepositoryAPI interface {
	GetPlayer(ctx context.Context, id int64) (*player.Player, error)
	GetDivision(ctx context.Context, id int64) (*player.Division, error)
	GetCity(ctx context.Context, id int64) (*player.City, error)
	SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) GetPlayer(ctx context.Context, id int64) (*player.Player, error) {
	return s.repo.GetPlayer(ctx, id)
}

func (s *Service) GetDivision(ctx context.Context, id int64) (*player.Division, error) {
	return s.repo.GetDivision(ctx, id)
}

func (s *Service) GetCity(ctx context.Context, id int64) (*player.City, error) {
	return s.repo.GetCity(ctx, id)
}

// PlayerWithDivision loads a player and the division it is registered in.
func (s *Service) PlayerWithDivision(ctx context.Context, playerID int64) (*player.Player, *player.Division, error) {
	p, err := s.repo.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	div, err := s.repo.GetDivision(ctx, p.DivisionID)
	if err != nil {
		return nil, nil, err
	}
	return p, div, nil
}

// Region resolves the tax region of a division through its city. A division
// without a city, or a city without a region, yields ErrRegionMissing.
func (s *Service) Region(ctx context.Context, div *player.Division) (string, error) {
	if div.CityID == nil {
		return "", internal.ErrRegionMissing.WithMessage("division %d has no city", div.ID)
	}
	city, err := s.repo.GetCity(ctx, *div.CityID)
	if err != nil {
		if errors.Is(err, internal.ErrCityNotFound) {
			return "", internal.ErrRegionMissing.WithMessage("city %d of division %d not found", *div.CityID, div.ID)
		}
		return "", err
	}
	if city.Region == nil || strings.TrimSpace(*city.Region) == "" {
		return "", internal.ErrRegionMissing.WithMessage("city %q has no region", city.Name)
	}
	return *city.Region, nil
}

// SetHasPaid writes the cached flag. Writers pass the value derived from
// their own ledger state, so repeated or racing writes converge.
func (s *Service) SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error {
	if err := s.repo.SetHasPaid(ctx, playerID, hasPaid); err != nil {
		s.logger.Error("player: failed to update payment status", "error", err, "player_id", playerID, "has_paid", hasPaid)
		return err
	}
	s.logger.Info("player: payment status updated", "player_id", playerID, "has_paid", hasPaid)
	return nil
}
