// Package auth реализует регистрацию и аутентификацию пользователей.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPhone возвращается для номера телефона неподдерживаемого формата.
	ErrInvalidPhone = errors.New("invalid phone")
)

// Store описывает операции хранилища пользователей.
type Store interface {
	CreateUser(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
}

// Service реализует операции над учётными записями.
type Service struct {
	store Store
}

// NewService создаёт сервис учётных записей.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register регистрирует нового пользователя. Телефон необязателен,
// но если указан, он должен быть распознаваемым российским номером.
func (s *Service) Register(ctx context.Context, login, password, phone string) (int64, error) {
	normalizedPhone := ""
	if phone != "" {
		normalizedPhone = validation.NormalizePhone(phone)
		if normalizedPhone == "" {
			return 0, ErrInvalidPhone
		}
	}

	id, err := s.store.CreateUser(ctx, login, hashPassword(login, password), normalizedPhone)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}

	return id, nil
}

// Authenticate проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) Authenticate(ctx context.Context, login, password string) (int64, error) {
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	if !hmac.Equal(hashPassword(login, password), u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}
