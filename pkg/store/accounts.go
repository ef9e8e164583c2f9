package store

import (
	"context"
	"fmt"

	"github.com/nmdchub/nmdchub/pkg/models"
)

// CreateAccount inserts a new account. The account's OID is populated on
// return.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by nick.
func (s *Store) GetAccount(ctx context.Context, nick string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("nick = ?", nick).First(&account).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrAccountNotFound)
	}
	return &account, nil
}

// GetAccountByID retrieves an account by its OID.
func (s *Store) GetAccountByID(ctx context.Context, oid uint) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "oid = ?", oid).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrAccountNotFound)
	}
	return &account, nil
}

// ListAccounts returns all accounts ordered by nick.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Order("nick").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdatePassword sets the password for a nick.
func (s *Store) UpdatePassword(ctx context.Context, nick, password string) error {
	return s.updateAccountColumn(ctx, nick, "password", password)
}

// SetOp grants or revokes operator status for a nick.
func (s *Store) SetOp(ctx context.Context, nick string, op bool) error {
	return s.updateAccountColumn(ctx, nick, "op", op)
}

// SetVerified marks an account verified or unverified.
func (s *Store) SetVerified(ctx context.Context, nick string, verified bool) error {
	return s.updateAccountColumn(ctx, nick, "verified", verified)
}

// SetArgs replaces the free-form capability string for a nick.
func (s *Store) SetArgs(ctx context.Context, nick, args string) error {
	return s.updateAccountColumn(ctx, nick, "args", args)
}

func (s *Store) updateAccountColumn(ctx context.Context, nick, column string, value any) error {
	result := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("nick = ?", nick).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update account %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}
