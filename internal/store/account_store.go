package store

import (
	"context"
	"database/sql"
)

type AccountStore struct {
	db DB
}

type Account struct {
	ID            string `db:"id"`
	Handle        string `db:"handle"`
	Tier          string `db:"tier"`
	Balance       int64  `db:"balance"`
	LifetimeSpent int64  `db:"lifetime_spent"`
	APIKeyHash    string `db:"api_key_hash"`
	CreatedAt     any    `db:"created_at"`
}

type AccountBalanceSummary struct {
	ID                string `db:"id"`
	Handle            string `db:"handle"`
	Tier              string `db:"tier"`
	StoredBalance     int64  `db:"stored_balance"`
	CalculatedBalance int64  `db:"calculated_balance"`
	Difference        int64  `db:"difference"`
	CreatedAt         any    `db:"created_at"`
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) Create(ctx context.Context, tx Execer, id, handle, tier, apiKeyHash string) error {
	query := `
		INSERT INTO accounts (id, handle, tier, balance, lifetime_spent, api_key_hash)
		VALUES ($1, $2, $3, 0, 0, $4)
	`
	_, err := tx.ExecContext(ctx, query, id, handle, tier, apiKeyHash)
	return err
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `
		SELECT id, handle, tier, balance, lifetime_spent, api_key_hash, created_at
		FROM accounts
		WHERE id = $1
	`, accountID)
	if err != nil {
		return Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetByHandle(ctx context.Context, handle string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `
		SELECT id, handle, tier, balance, lifetime_spent, api_key_hash, created_at
		FROM accounts
		WHERE handle = $1
	`, handle)
	if err != nil {
		return Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		SELECT balance
		FROM accounts
		WHERE id = $1
	`, accountID)
	return balance, err
}

// GetBalanceForUpdate is the transaction-scoped read used to compute the
// deficit after a refused debit.
func (s *AccountStore) GetBalanceForUpdate(ctx context.Context, tx Getter, accountID string) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		SELECT balance
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	return balance, err
}

// ConditionalDebit decrements the balance only when it covers the amount; the
// guard and the write are one statement so two concurrent debits for the same
// account can never both observe a stale balance. Zero rows back means the
// account is missing or the balance fell short.
func (s *AccountStore) ConditionalDebit(ctx context.Context, tx Getter, accountID string, amount int64) (bool, int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance - $1,
		    lifetime_spent = lifetime_spent + $1,
		    updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, balance, nil
}

// AdjustBalance applies a signed delta with no balance guard; the ledger uses
// it for credits only.
func (s *AccountStore) AdjustBalance(ctx context.Context, tx Getter, accountID string, delta int64) (int64, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance
	`, delta, accountID)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *AccountStore) SetTier(ctx context.Context, tx Execer, accountID, tier string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET tier = $1, updated_at = NOW()
		WHERE id = $2
	`, tier, accountID)
	return err
}

func (s *AccountStore) GetSummary(ctx context.Context, accountID string) (AccountBalanceSummary, error) {
	var row AccountBalanceSummary
	err := s.db.GetContext(ctx, &row, `
		SELECT a.id,
		       a.handle,
		       a.tier,
		       a.balance AS stored_balance,
		       COALESCE(SUM(t.delta), 0) AS calculated_balance,
		       (a.balance - COALESCE(SUM(t.delta), 0)) AS difference,
		       a.created_at
		FROM accounts a
		LEFT JOIN credit_transactions t ON t.account_id = a.id
		WHERE a.id = $1
		GROUP BY a.id, a.handle, a.tier, a.balance, a.created_at
	`, accountID)
	if err != nil {
		return AccountBalanceSummary{}, err
	}
	return row, nil
}
