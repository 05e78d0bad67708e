// Package authpw provides email/password registration and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrEmployeeIDExists   = errors.New("employee id already registered")
	ErrUnknownDepartment  = errors.New("department does not exist")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactive           = errors.New("account is deactivated")
)

// MinPasswordLength is enforced by request validation before the service runs.
const MinPasswordLength = 8

// UserStore defines the storage interface for auth.
type UserStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	CreateResolverProfile(ctx context.Context, profile store.ResolverProfile) error
	DepartmentExists(ctx context.Context, slug string) (bool, error)
}

type Service struct {
	store UserStore
	cost  int
	// dummyHash keeps sign-in timing similar for unknown emails.
	dummyHash []byte
}

func NewService(store UserStore) *Service {
	return newService(store, bcrypt.DefaultCost)
}

func newService(store UserStore, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("townsquare-dummy-password"), cost)
	return &Service{store: store, cost: cost, dummyHash: dummy}
}

type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Address  string
}

type ResolverRequest struct {
	RegisterRequest
	DepartmentID string
	Designation  string
	EmployeeID   string
	Jurisdiction string
}

// Register creates a citizen account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	var user store.User
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.createUser(ctx, req, rbac.RoleCitizen)
		return err
	})
	return user, err
}

// RegisterResolver creates a resolver account with an unverified profile.
func (s *Service) RegisterResolver(ctx context.Context, req ResolverRequest) (store.User, store.ResolverProfile, error) {
	var (
		user    store.User
		profile store.ResolverProfile
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.DepartmentExists(ctx, req.DepartmentID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnknownDepartment
		}
		user, err = s.createUser(ctx, req.RegisterRequest, rbac.RoleResolver)
		if err != nil {
			return err
		}
		profile = store.ResolverProfile{
			UserID:       user.ID,
			DepartmentID: req.DepartmentID,
			Designation:  strings.TrimSpace(req.Designation),
			EmployeeID:   strings.TrimSpace(req.EmployeeID),
			Jurisdiction: strings.TrimSpace(req.Jurisdiction),
		}
		if err := s.store.CreateResolverProfile(ctx, profile); err != nil {
			if store.IsDuplicateOn(err, store.ConstraintEmployeeID) {
				return ErrEmployeeIDExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return store.User{}, store.ResolverProfile{}, err
	}
	return user, profile, nil
}

func (s *Service) createUser(ctx context.Context, req RegisterRequest, role rbac.Role) (store.User, error) {
	email := normalizeEmail(req.Email)
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, err
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
		Role:         string(role),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
	})
	if store.IsDuplicateOn(err, store.ConstraintUserEmail) {
		return store.User{}, ErrEmailExists
	}
	return user, err
}

// Login checks credentials. Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrInactive
	}
	return user, nil
}

// EnsureAdmin creates an admin account on first boot when none exists for email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, fullName string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}
	created := false
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.createUser(ctx, RegisterRequest{Email: email, Password: password, FullName: fullName}, rbac.RoleAdmin)
		if errors.Is(err, ErrEmailExists) {
			return nil
		}
		created = err == nil
		return err
	})
	return created, err
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
