package archive

import (
	"context"
	"fmt"
	"net/mail"
	"newsq/internal/domain"
	"newsq/internal/ports"
	"strings"

	"github.com/google/uuid"
)

var _ ports.RecipientRepository = (*Store)(nil)

// AddRecipient registers an active alert recipient.
func (s *Store) AddRecipient(ctx context.Context, email, name string) (*domain.Recipient, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	r := &domain.Recipient{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(addr.Address),
		Name:      name,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, fmt.Errorf("add recipient %s: %w", r.Email, err)
	}
	return r, nil
}

func (s *Store) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	var out []domain.Recipient
	err := s.db.WithContext(ctx).Order("email ASC").Find(&out).Error
	return out, err
}

// SetRecipientActive enables or disables alerts for email.
func (s *Store) SetRecipientActive(ctx context.Context, email string, active bool) error {
	res := s.db.WithContext(ctx).
		Model(&domain.Recipient{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recipient %s: %w", email, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ActiveRecipients(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).
		Model(&domain.Recipient{}).
		Where("is_active = ?", true).
		Order("email ASC").
		Pluck("email", &emails).Error
	return emails, err
}
