package store

import (
	"context"
	"errors"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/sequence"

	"gorm.io/gorm"
)

type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByPhoneNumberID resolves the account a webhook event was delivered for.
func (s *AccountStore) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).Where("phone_number_id = ?", phoneNumberID).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sequence.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *AccountStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}
