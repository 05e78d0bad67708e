package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"townsquare/api/internal/authpw"
	"townsquare/api/internal/blob"
	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
	"townsquare/api/internal/validation"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"full_name" validate:"notblank,max=120"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Address  string `json:"address" validate:"omitempty,max=500"`
}

type ResolverRegisterInput struct {
	RegisterInput
	Department   string `json:"department" validate:"notblank"`
	Designation  string `json:"designation" validate:"notblank,max=120"`
	EmployeeID   string `json:"employee_id" validate:"notblank,max=64"`
	Jurisdiction string `json:"jurisdiction" validate:"omitempty,max=200"`
}

type AuthResult struct {
	Session  Session
	User     store.User
	Resolver *store.ResolverProfile
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrEmailExists):
		return conflictError(codeEmailExists, "An account with this email already exists")
	case errors.Is(err, authpw.ErrEmployeeIDExists):
		return conflictError(codeEmployeeExists, "This employee id is already registered")
	case errors.Is(err, authpw.ErrUnknownDepartment):
		return fieldError("department", "department does not exist")
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, codeUnauthorized, "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrInactive):
		return permissionError("Account is deactivated")
	default:
		return err
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if fields := validation.Struct(in); fields != nil {
		return AuthResult{}, validationError(fields)
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:    in.Email,
		Password: in.Password,
		FullName: in.FullName,
		Phone:    in.Phone,
		Address:  in.Address,
	})
	if err != nil {
		return AuthResult{}, mapAuthError(err)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("citizen registered")
	return AuthResult{Session: sess, User: user}, nil
}

// RegisterResolver creates a resolver account awaiting admin verification.
func (s *Service) RegisterResolver(ctx context.Context, in ResolverRegisterInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if fields := validation.Struct(in); fields != nil {
		return AuthResult{}, validationError(fields)
	}
	user, profile, err := s.passwords.RegisterResolver(ctx, authpw.ResolverRequest{
		RegisterRequest: authpw.RegisterRequest{
			Email:    in.Email,
			Password: in.Password,
			FullName: in.FullName,
			Phone:    in.Phone,
			Address:  in.Address,
		},
		DepartmentID: strings.TrimSpace(in.Department),
		Designation:  in.Designation,
		EmployeeID:   in.EmployeeID,
		Jurisdiction: in.Jurisdiction,
	})
	if err != nil {
		return AuthResult{}, mapAuthError(err)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.log.Info().Str("user_id", user.ID).Str("department", profile.DepartmentID).Msg("resolver registered")
	return AuthResult{Session: sess, User: user, Resolver: &profile}, nil
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if fields := validation.Struct(in); fields != nil {
		return AuthResult{}, validationError(fields)
	}
	user, err := s.passwords.Login(ctx, in.Email, in.Password)
	if err != nil {
		return AuthResult{}, mapAuthError(err)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Session: sess, User: user}, nil
}

type Profile struct {
	User     store.User
	Resolver *store.ResolverProfile
}

func (s *Service) GetProfile(ctx context.Context, actor rbac.Actor) (Profile, error) {
	if !actor.Authenticated() {
		return Profile{}, unauthorizedError()
	}
	user, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{User: user}
	if rbac.Normalize(user.Role) == rbac.RoleResolver {
		rp, err := s.store.GetResolverProfile(ctx, user.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Profile{}, err
		}
		if err == nil {
			profile.Resolver = &rp
		}
	}
	return profile, nil
}

type ProfileInput struct {
	FullName *string `json:"full_name" validate:"omitempty,notblank,max=120"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	Address  *string `json:"address" validate:"omitempty,max=500"`
}

func (s *Service) UpdateProfile(ctx context.Context, actor rbac.Actor, in ProfileInput) (Profile, error) {
	if !actor.Authenticated() {
		return Profile{}, unauthorizedError()
	}
	in.FullName = trimPtr(in.FullName)
	in.Phone = trimPtr(in.Phone)
	in.Address = trimPtr(in.Address)
	if fields := validation.Struct(in); fields != nil {
		return Profile{}, validationError(fields)
	}
	current, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return Profile{}, err
	}
	fullName, phone, address := current.FullName, current.Phone, current.Address
	if in.FullName != nil {
		fullName = *in.FullName
	}
	if in.Phone != nil {
		phone = *in.Phone
	}
	if in.Address != nil {
		address = *in.Address
	}
	if _, err := s.store.UpdateUserProfile(ctx, actor.ID, fullName, phone, address); err != nil {
		return Profile{}, err
	}
	return s.GetProfile(ctx, actor)
}

// UploadAvatar replaces the profile image. The previous object is removed
// after the new key is saved.
func (s *Service) UploadAvatar(ctx context.Context, actor rbac.Actor, u Upload) (Profile, error) {
	if !actor.Authenticated() {
		return Profile{}, unauthorizedError()
	}
	if s.blob == nil {
		return Profile{}, unavailableError("File storage is not configured")
	}
	if _, err := blob.ContentType(blob.ProfileImages, u.Filename); err != nil {
		return Profile{}, fieldError("avatar", "avatar must be a jpg, png, webp or gif image")
	}
	current, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return Profile{}, err
	}
	key, err := s.putObject(ctx, blob.ProfileImages, actor.ID, "", u)
	if err != nil {
		return Profile{}, err
	}
	if err := s.store.UpdateUserImage(ctx, actor.ID, key); err != nil {
		s.discardObjects([]string{key})
		return Profile{}, err
	}
	if current.ProfileImageKey != "" {
		s.discardObjects([]string{current.ProfileImageKey})
	}
	return s.GetProfile(ctx, actor)
}

func (s *Service) UploadResolverDocument(ctx context.Context, actor rbac.Actor, u Upload) (Profile, error) {
	if !actor.Authenticated() {
		return Profile{}, unauthorizedError()
	}
	if actor.Role != rbac.RoleResolver {
		return Profile{}, permissionError("Only resolvers can upload an identity document")
	}
	if s.blob == nil {
		return Profile{}, unavailableError("File storage is not configured")
	}
	if _, err := blob.ContentType(blob.ResolverDocuments, u.Filename); err != nil {
		return Profile{}, fieldError("document", "document must be a pdf or an image")
	}
	current, err := s.store.GetResolverProfile(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Profile{}, notFoundError("Resolver profile")
	}
	if err != nil {
		return Profile{}, err
	}
	key, err := s.putObject(ctx, blob.ResolverDocuments, actor.ID, "", u)
	if err != nil {
		return Profile{}, err
	}
	if err := s.store.UpdateResolverDocument(ctx, actor.ID, key); err != nil {
		s.discardObjects([]string{key})
		return Profile{}, err
	}
	if current.IDDocumentKey != "" {
		s.discardObjects([]string{current.IDDocumentKey})
	}
	return s.GetProfile(ctx, actor)
}

func requireModerator(actor rbac.Actor) error {
	if !actor.Authenticated() {
		return unauthorizedError()
	}
	if !rbac.Can(actor.Role, rbac.ActionModerate) {
		return permissionError("Admin access required")
	}
	return nil
}

var resolverStates = []string{"pending", "verified", "rejected"}

func (s *Service) ListResolvers(ctx context.Context, actor rbac.Actor, state string) ([]store.PendingResolver, error) {
	if err := requireModerator(actor); err != nil {
		return nil, err
	}
	state = strings.TrimSpace(state)
	if state != "" && state != "all" && !contains(resolverStates, state) {
		return nil, fieldError("status", "status must be one of: pending, verified, rejected, all")
	}
	if state == "all" {
		state = ""
	}
	items, err := s.store.ListResolvers(ctx, state)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.PendingResolver{}
	}
	return items, nil
}

func (s *Service) VerifyResolver(ctx context.Context, actor rbac.Actor, userID string) (store.ResolverProfile, error) {
	if err := requireModerator(actor); err != nil {
		return store.ResolverProfile{}, err
	}
	var profile store.ResolverProfile
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.VerifyResolver(ctx, userID, actor.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFoundError("Resolver")
			}
			return err
		}
		if err := s.notifyResolverOutcome(ctx, userID, actor.ID, true, ""); err != nil {
			return err
		}
		var err error
		profile, err = s.store.GetResolverProfile(ctx, userID)
		return err
	})
	if err != nil {
		return store.ResolverProfile{}, err
	}
	s.log.Info().Str("resolver_id", userID).Str("admin_id", actor.ID).Msg("resolver verified")
	return profile, nil
}

type RejectInput struct {
	Reason string `json:"reason" validate:"notblank,max=500"`
}

func (s *Service) RejectResolver(ctx context.Context, actor rbac.Actor, userID string, in RejectInput) (store.ResolverProfile, error) {
	if err := requireModerator(actor); err != nil {
		return store.ResolverProfile{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if fields := validation.Struct(in); fields != nil {
		return store.ResolverProfile{}, validationError(fields)
	}
	var profile store.ResolverProfile
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.RejectResolver(ctx, userID, actor.ID, in.Reason); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFoundError("Resolver")
			}
			return err
		}
		if err := s.notifyResolverOutcome(ctx, userID, actor.ID, false, in.Reason); err != nil {
			return err
		}
		var err error
		profile, err = s.store.GetResolverProfile(ctx, userID)
		return err
	})
	if err != nil {
		return store.ResolverProfile{}, err
	}
	s.log.Info().Str("resolver_id", userID).Str("admin_id", actor.ID).Msg("resolver rejected")
	return profile, nil
}

func (s *Service) SetUserActive(ctx context.Context, actor rbac.Actor, userID string, active bool) (store.User, error) {
	if err := requireModerator(actor); err != nil {
		return store.User{}, err
	}
	if userID == actor.ID && !active {
		return store.User{}, fieldError("is_active", "you cannot deactivate your own account")
	}
	if err := s.store.SetUserActive(ctx, userID, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, notFoundError("User")
		}
		return store.User{}, err
	}
	return s.store.GetUserByID(ctx, userID)
}
