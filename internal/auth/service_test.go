package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/baganov/pizzanat-system/internal/model"
	"github.com/baganov/pizzanat-system/internal/repository"
)

type stubStore struct {
	users  map[string]*model.User
	nextID int64
}

func newStubStore() *stubStore {
	return &stubStore{users: make(map[string]*model.User), nextID: 1}
}

func (s *stubStore) CreateUser(_ context.Context, login string, passwordHash []byte, phone string) (int64, error) {
	if _, ok := s.users[login]; ok {
		return 0, repository.ErrUserExists
	}
	id := s.nextID
	s.nextID++
	s.users[login] = &model.User{ID: id, Login: login, PasswordHash: passwordHash, Phone: phone}
	return id, nil
}

func (s *stubStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	u, ok := s.users[login]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	store := newStubStore()
	svc := NewService(store)

	id, err := svc.Register(context.Background(), "ivan", "secret", "8 999 123-45-67")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if store.users["ivan"].Phone != "+79991234567" {
		t.Fatalf("phone = %s, want normalized", store.users["ivan"].Phone)
	}

	gotID, err := svc.Authenticate(context.Background(), "ivan", "secret")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if gotID != id {
		t.Fatalf("id = %d, want %d", gotID, id)
	}
}

func TestRegister_DuplicateLogin(t *testing.T) {
	svc := NewService(newStubStore())

	if _, err := svc.Register(context.Background(), "ivan", "secret", ""); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if _, err := svc.Register(context.Background(), "ivan", "other", ""); !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("err = %v, want ErrUserExists", err)
	}
}

func TestRegister_InvalidPhone(t *testing.T) {
	svc := NewService(newStubStore())

	if _, err := svc.Register(context.Background(), "ivan", "secret", "12345"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	svc := NewService(newStubStore())

	if _, err := svc.Register(context.Background(), "ivan", "secret", ""); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "ivan", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	svc := NewService(newStubStore())

	if _, err := svc.Authenticate(context.Background(), "ghost", "secret"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}
