package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/repo"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/token"
)

// memUsers is the in-memory account repository for service tests.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*model.User{}}
}

func (m *memUsers) Insert(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return repo.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) ByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *u
	cp.Password = ""
	return &cp, nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memUsers) Update(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "name":
			u.Name = v.(string)
		case "avatarUrl":
			u.AvatarURL = v.(string)
		case "role":
			u.Role = v.(string)
		case "isActive":
			u.IsActive = v.(bool)
		case "lastLoginAt":
			t := v.(time.Time)
			u.LastLoginAt = &t
		case "updatedAt":
			u.UpdatedAt = v.(time.Time)
		}
	}
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) List(_ context.Context, page, limit int) ([]model.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []model.User
	for _, u := range m.users {
		cp := *u
		cp.Password = ""
		all = append(all, cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type authFixture struct {
	svc      *Service
	users    *memUsers
	tokens   *token.Manager
	denylist *token.Denylist
}

func newAuthFixture() *authFixture {
	users := newMemUsers()
	tokens := token.NewManager("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	denylist := token.NewDenylist(store.NewMemory(), zerolog.Nop())
	return &authFixture{
		svc:      New(users, tokens, denylist, zerolog.Nop()),
		users:    users,
		tokens:   tokens,
		denylist: denylist,
	}
}

func register(t *testing.T, f *authFixture, email string) *Session {
	t.Helper()
	session, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "correct-horse",
		Name:     "Alice",
	})
	require.NoError(t, err)
	return session
}

func TestRegister(t *testing.T) {
	f := newAuthFixture()

	session, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "  Alice@Example.COM ",
		Password: "correct-horse",
		Name:     "  Alice  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.Equal(t, "Alice", session.User.Name)
	assert.Equal(t, model.RoleUser, session.User.Role)
	assert.True(t, session.User.IsActive)
	assert.Empty(t, session.User.Password)

	claims, err := f.tokens.ParseAccess(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)

	_, err = f.tokens.ParseRefresh(session.RefreshToken)
	require.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Email: "not-an-email", Password: "correct-horse", Name: "A"})
	require.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, errs.AsError(err).Fields, "email")

	_, err = f.svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "short", Name: "A"})
	require.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, errs.AsError(err).Fields, "password")

	_, err = f.svc.Register(ctx, RegisterInput{Email: "a@b.com", Password: "correct-horse", Name: "<script></script>"})
	require.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, errs.AsError(err).Fields, "name")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newAuthFixture()
	register(t, f, "alice@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "ALICE@example.com",
		Password: "correct-horse",
		Name:     "Imposter",
	})
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestLogin(t *testing.T) {
	f := newAuthFixture()
	register(t, f, "alice@example.com")
	ctx := context.Background()

	session, err := f.svc.Login(ctx, "Alice@Example.com", "correct-horse")
	require.NoError(t, err)
	assert.Empty(t, session.User.Password)
	require.NotNil(t, session.User.LastLoginAt)

	_, err = f.svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	// Unknown email is indistinguishable from a bad password.
	_, err = f.svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestLoginDeactivatedAccount(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, f.users.Update(ctx, session.User.ID, map[string]any{"isActive": false}))

	_, err := f.svc.Login(ctx, "alice@example.com", "correct-horse")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestRefreshRotation(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	rotated, err := f.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	// The spent token is dead: replay fails.
	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	// The rotated token still works.
	_, err = f.svc.Refresh(ctx, rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")

	_, err := f.svc.Refresh(context.Background(), session.AccessToken)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestLogout(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, session.RefreshToken))

	_, err := f.svc.Refresh(ctx, session.RefreshToken)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	// Unverifiable tokens are a no-op success.
	assert.NoError(t, f.svc.Logout(ctx, "garbage"))
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	user, claims, err := f.svc.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)
	assert.Equal(t, session.User.ID, claims.UserID)

	_, _, err = f.svc.Authenticate(ctx, "garbage")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	// Refresh tokens are not access tokens.
	_, _, err = f.svc.Authenticate(ctx, session.RefreshToken)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestAuthenticateDeactivatedAccount(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, f.users.Update(ctx, session.User.ID, map[string]any{"isActive": false}))

	_, _, err := f.svc.Authenticate(ctx, session.AccessToken)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestAuthenticateAfterUserCutoff(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	// Cut off strictly after issuance so the ms comparison is unambiguous.
	f.denylist.SetClock(func() time.Time { return time.Now().Add(2 * time.Second) })
	require.NoError(t, f.denylist.BlacklistUser(ctx, session.User.ID))

	_, _, err := f.svc.Authenticate(ctx, session.AccessToken)
	require.Error(t, err)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
	assert.Equal(t, "token revoked", errs.AsError(err).Message)
}

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()

	name := "  Alice B  "
	avatar := "https://cdn.example.com/a.png"
	user, err := f.svc.UpdateProfile(ctx, session.User.ID, UpdateProfileInput{Name: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Alice B", user.Name)
	assert.Equal(t, avatar, user.AvatarURL)

	empty := "<script></script>"
	_, err = f.svc.UpdateProfile(ctx, session.User.ID, UpdateProfileInput{Name: &empty})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func adminUser() *model.User {
	return &model.User{ID: "admin1", Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true}
}

func TestAdminGuards(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()
	plain := session.User

	_, err := f.svc.GetUser(ctx, plain, plain.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, _, err = f.svc.ListUsers(ctx, plain, 1, 20)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = f.svc.SetUserRole(ctx, plain, plain.ID, model.RoleAdmin)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	assert.Equal(t, errs.KindForbidden, errs.KindOf(f.svc.DeleteUser(ctx, plain, plain.ID)))
}

func TestSetUserRole(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()
	admin := adminUser()

	_, err := f.svc.SetUserRole(ctx, admin, admin.ID, model.RoleUser)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = f.svc.SetUserRole(ctx, admin, session.User.ID, "superuser")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	user, err := f.svc.SetUserRole(ctx, admin, session.User.ID, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, user.Role)

	_, err = f.svc.SetUserRole(ctx, admin, "ghost", model.RoleUser)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestSetUserActive(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()
	admin := adminUser()

	_, err := f.svc.SetUserActive(ctx, admin, admin.ID, false)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	user, err := f.svc.SetUserActive(ctx, admin, session.User.ID, false)
	require.NoError(t, err)
	assert.False(t, user.IsActive)

	user, err = f.svc.SetUserActive(ctx, admin, session.User.ID, true)
	require.NoError(t, err)
	assert.True(t, user.IsActive)
}

func TestDeleteUser(t *testing.T) {
	f := newAuthFixture()
	session := register(t, f, "alice@example.com")
	ctx := context.Background()
	admin := adminUser()

	assert.Equal(t, errs.KindForbidden, errs.KindOf(f.svc.DeleteUser(ctx, admin, admin.ID)))

	require.NoError(t, f.svc.DeleteUser(ctx, admin, session.User.ID))

	_, err := f.svc.Profile(ctx, session.User.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	assert.Equal(t, errs.KindNotFound, errs.KindOf(f.svc.DeleteUser(ctx, admin, session.User.ID)))
}
