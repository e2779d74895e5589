package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Accounts struct {
	pool *pgxpool.Pool
}

var _ core.AccountStatus = (*Accounts)(nil)

func NewAccounts(pool *pgxpool.Pool) *Accounts { return &Accounts{pool: pool} }

func (a *Accounts) Suspension(ctx context.Context, user domain.UserID) (*domain.Suspension, error) {
	s := domain.Suspension{UserID: user}
	err := a.pool.QueryRow(ctx,
		`SELECT reason, until FROM user_suspensions WHERE user_id = $1`, string(user),
	).Scan(&s.Reason, &s.Until)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suspension %s: %w", user, err)
	}
	return &s, nil
}

func (a *Accounts) Suspend(ctx context.Context, s domain.Suspension) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO user_suspensions (user_id, reason, until) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason, until = EXCLUDED.until`,
		string(s.UserID), s.Reason, s.Until)
	if err != nil {
		return fmt.Errorf("suspend %s: %w", s.UserID, err)
	}
	return nil
}
