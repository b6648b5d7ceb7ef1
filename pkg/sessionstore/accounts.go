package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/triadwork/triad/pkg/authn"
	"github.com/triadwork/triad/pkg/errs"
)

// CreateAccount inserts a new unverified account.
func (p *Postgres) CreateAccount(ctx context.Context, acct authn.Account) error {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, verified, verify_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), acct.Email, acct.PasswordHash, acct.Verified, acct.VerifyCode, acct.CreatedAt); err != nil {
		return fmt.Errorf("create account %s: %w", acct.Email, err)
	}
	return nil
}

// GetAccount fetches an account by email.
func (p *Postgres) GetAccount(ctx context.Context, email string) (*authn.Account, error) {
	var acct authn.Account
	err := p.db.QueryRowContext(ctx, `
		SELECT email, password_hash, verified, verify_token, created_at
		FROM accounts WHERE email = $1
	`, email).Scan(&acct.Email, &acct.PasswordHash, &acct.Verified, &acct.VerifyCode, &acct.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", email, err)
	}
	return &acct, nil
}

// MarkVerified flips an account's verified flag.
func (p *Postgres) MarkVerified(ctx context.Context, email string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE accounts SET verified = TRUE WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("mark account verified %s: %w", email, err)
	}
	return requireRowsAffected(res, email)
}
