// Package auth implements registration, login, token rotation and the
// admin user operations.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/repo"
	"github.com/parleychat/parley/internal/sanitize"
	"github.com/parleychat/parley/internal/token"
)

// bcryptCost is fixed; digests carry their cost so changing it later
// only affects new passwords.
const bcryptCost = 12

// Service owns the account lifecycle.
type Service struct {
	users    repo.Users
	tokens   *token.Manager
	denylist *token.Denylist
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates the auth service.
func New(users repo.Users, tokens *token.Manager, denylist *token.Denylist, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		denylist: denylist,
		logger:   logger.With().Str("component", "auth").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test helper.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RegisterInput is the signup payload.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Session is the response shape for register, login and refresh.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *model.User `json:"user"`
}

// Register creates an account and issues its first token pair. Emails
// are stored lowercase; uniqueness is enforced by the store index.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := sanitize.Text(in.Name)

	fields := map[string]string{}
	if !strings.Contains(email, "@") || len(email) > 254 {
		fields["email"] = "must be a valid email address"
	}
	if len(in.Password) < 8 || len(in.Password) > 72 {
		fields["password"] = "must be 8-72 characters"
	}
	if name == "" || len([]rune(name)) > 100 {
		fields["name"] = "must be 1-100 characters"
	}
	if len(fields) > 0 {
		return nil, errs.ValidationFields("invalid registration", fields)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, errs.Internal("hash password", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:        model.NewID(),
		Email:     email,
		Password:  string(digest),
		Name:      name,
		Role:      model.RoleUser,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, errs.Conflict("email already registered")
		}
		return nil, errs.Internal("insert user", err)
	}

	pair, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, errs.Internal("issue tokens", err)
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User registered")
	user.Password = ""
	return &Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, User: user}, nil
}

// Login verifies credentials and issues a token pair. Invalid email and
// invalid password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, errs.Internal("load user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errs.Unauthorized("invalid credentials")
	}
	if !user.IsActive {
		return nil, errs.Forbidden("account is deactivated")
	}

	pair, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, errs.Internal("issue tokens", err)
	}

	now := s.now().UTC()
	if err := s.users.Update(ctx, user.ID, map[string]any{"lastLoginAt": now, "updatedAt": now}); err != nil {
		s.logger.Warn().Str("user_id", user.ID).Err(err).Msg("Failed to stamp lastLoginAt")
	}
	user.LastLoginAt = &now

	user.Password = ""
	return &Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, User: user}, nil
}

// Refresh rotates a refresh token: verify, denylist-check, blacklist the
// old token, issue a fresh pair. A replayed refresh token always fails.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := s.denylist.Check(ctx, raw, claims)
	if err != nil {
		return nil, errs.Internal("check denylist", err)
	}
	if revoked {
		return nil, errs.Unauthorized("token revoked")
	}

	user, err := s.users.ByID(ctx, claims.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.Unauthorized("invalid token")
	}
	if err != nil {
		return nil, errs.Internal("load user", err)
	}
	if !user.IsActive {
		return nil, errs.Forbidden("account is deactivated")
	}

	if err := s.denylist.Blacklist(ctx, raw); err != nil {
		return nil, errs.Internal("revoke refresh token", err)
	}
	pair, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, errs.Internal("issue tokens", err)
	}
	return &Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, User: user}, nil
}

// Logout revokes a refresh token. Expired tokens are a no-op success.
func (s *Service) Logout(ctx context.Context, raw string) error {
	if _, err := s.tokens.ParseRefresh(raw); err != nil {
		// Unverifiable tokens never need revoking.
		return nil
	}
	if err := s.denylist.Blacklist(ctx, raw); err != nil {
		return errs.Internal("revoke refresh token", err)
	}
	return nil
}

// Profile loads the caller's own account.
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.ByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.NotFound("user not found")
	}
	if err != nil {
		return nil, errs.Internal("load user", err)
	}
	return user, nil
}

// UpdateProfileInput is the self-service profile patch. Nil fields are
// untouched.
type UpdateProfileInput struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

// UpdateProfile patches the caller's own account.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.User, error) {
	fields := map[string]any{}
	if in.Name != nil {
		name := sanitize.Text(*in.Name)
		if name == "" || len([]rune(name)) > 100 {
			return nil, errs.ValidationFields("invalid profile", map[string]string{"name": "must be 1-100 characters"})
		}
		fields["name"] = name
	}
	if in.AvatarURL != nil {
		fields["avatarUrl"] = sanitize.Text(*in.AvatarURL)
	}
	if len(fields) > 0 {
		fields["updatedAt"] = s.now().UTC()
		if err := s.users.Update(ctx, userID, fields); err != nil {
			return nil, errs.Internal("update user", err)
		}
	}
	return s.Profile(ctx, userID)
}

// GetUser loads an account by id. Admins only.
func (s *Service) GetUser(ctx context.Context, principal *model.User, id string) (*model.User, error) {
	if principal.Role != model.RoleAdmin {
		return nil, errs.Forbidden("admin role required")
	}
	return s.Profile(ctx, id)
}

// ListUsers pages over accounts. Admins only.
func (s *Service) ListUsers(ctx context.Context, principal *model.User, page, limit int) ([]model.User, int64, error) {
	if principal.Role != model.RoleAdmin {
		return nil, 0, errs.Forbidden("admin role required")
	}
	users, total, err := s.users.List(ctx, page, limit)
	if err != nil {
		return nil, 0, errs.Internal("list users", err)
	}
	return users, total, nil
}

// SetUserRole changes an account's platform role. Admins only; never on
// themselves.
func (s *Service) SetUserRole(ctx context.Context, principal *model.User, id, role string) (*model.User, error) {
	if principal.Role != model.RoleAdmin {
		return nil, errs.Forbidden("admin role required")
	}
	if principal.ID == id {
		return nil, errs.Forbidden("admins cannot change their own role")
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		return nil, errs.ValidationFields("invalid role", map[string]string{"role": "must be user or admin"})
	}
	if err := s.users.Update(ctx, id, map[string]any{"role": role, "updatedAt": s.now().UTC()}); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFound("user not found")
		}
		return nil, errs.Internal("update user", err)
	}
	// Existing tokens carry the old role claim; cut them off.
	if err := s.denylist.BlacklistUser(ctx, id); err != nil {
		s.logger.Warn().Str("user_id", id).Err(err).Msg("Failed to cut off tokens after role change")
	}
	return s.Profile(ctx, id)
}

// SetUserActive activates or deactivates an account. Admins only; never
// on themselves. Deactivation cuts off every outstanding token.
func (s *Service) SetUserActive(ctx context.Context, principal *model.User, id string, active bool) (*model.User, error) {
	if principal.Role != model.RoleAdmin {
		return nil, errs.Forbidden("admin role required")
	}
	if principal.ID == id {
		return nil, errs.Forbidden("admins cannot deactivate themselves")
	}
	if err := s.users.Update(ctx, id, map[string]any{"isActive": active, "updatedAt": s.now().UTC()}); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFound("user not found")
		}
		return nil, errs.Internal("update user", err)
	}
	if !active {
		if err := s.denylist.BlacklistUser(ctx, id); err != nil {
			s.logger.Warn().Str("user_id", id).Err(err).Msg("Failed to cut off tokens after deactivation")
		}
	}
	return s.Profile(ctx, id)
}

// DeleteUser removes an account. Admins only; never on themselves.
func (s *Service) DeleteUser(ctx context.Context, principal *model.User, id string) error {
	if principal.Role != model.RoleAdmin {
		return errs.Forbidden("admin role required")
	}
	if principal.ID == id {
		return errs.Forbidden("admins cannot delete themselves")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errs.NotFound("user not found")
		}
		return errs.Internal("delete user", err)
	}
	if err := s.denylist.BlacklistUser(ctx, id); err != nil {
		s.logger.Warn().Str("user_id", id).Err(err).Msg("Failed to cut off tokens after deletion")
	}
	return nil
}

// Authenticate verifies an access token and loads its live account. Used
// by both the HTTP middleware and the gateway handshake.
func (s *Service) Authenticate(ctx context.Context, raw string) (*model.User, *token.Claims, error) {
	claims, err := s.tokens.ParseAccess(raw)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := s.denylist.Check(ctx, raw, claims)
	if err != nil {
		return nil, nil, errs.Internal("check denylist", err)
	}
	if revoked {
		return nil, nil, errs.Unauthorized("token revoked")
	}

	user, err := s.users.ByID(ctx, claims.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, errs.Unauthorized("invalid token")
	}
	if err != nil {
		return nil, nil, errs.Internal("load user", err)
	}
	if !user.IsActive {
		return nil, nil, errs.Forbidden("account is deactivated")
	}
	return user, claims, nil
}
