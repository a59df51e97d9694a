package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	playerService "github.com/frahmantamala/league-payments/internal/player"
)

const (
	playerColumns   = "id, first_name, last_name, division_id, payment_status_has_paid, payment_status_reminder_count, payment_status_last_attempt, created_at, updated_at"
	divisionColumns = "id, name, city_id, early_bird_price, regular_price, early_bird_installment_price, regular_installment_price, installment_count, payment_deadline, created_at, updated_at"
	cityColumns     = "id, name, region, created_at, updated_at"
)

type PlayerRepository struct {
	db *sqlx.DB
}

func NewPlayerRepository(db *sqlx.DB) playerService.RepositoryAPI {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) GetPlayer(ctx context.Context, id int64) (*player.Player, error) {
	var p player.Player
	query := r.db.Rebind("SELECT " + playerColumns + " FROM players WHERE id = ?")
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrPlayerNotFound.WithMessage("player %d not found", id)
		}
		return nil, fmt.Errorf("get player %d: %w", id, err)
	}
	return &p, nil
}

func (r *PlayerRepository) GetDivision(ctx context.Context, id int64) (*player.Division, error) {
	var d player.Division
	query := r.db.Rebind("SELECT " + divisionColumns + " FROM divisions WHERE id = ?")
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrDivisionNotFound.WithMessage("division %d not found", id)
		}
		return nil, fmt.Errorf("get division %d: %w", id, err)
	}
	return &d, nil
}

func (r *PlayerRepository) GetCity(ctx context.Context, id int64) (*player.City, error) {
	var c player.City
	query := r.db.Rebind("SELECT " + cityColumns + " FROM cities WHERE id = ?")
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrCityNotFound.WithMessage("city %d not found", id)
		}
		return nil, fmt.Errorf("get city %d: %w", id, err)
	}
	return &c, nil
}

func (r *PlayerRepository) SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`UPDATE players
SET payment_status_has_paid = ?, payment_status_last_attempt = ?, updated_at = ?
WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, hasPaid, now, now, playerID)
	if err != nil {
		return fmt.Errorf("set has_paid for player %d: %w", playerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set has_paid for player %d: %w", playerID, err)
	}
	if n == 0 {
		return internal.ErrPlayerNotFound.WithMessage("player %d not found", playerID)
	}
	return nil
}
