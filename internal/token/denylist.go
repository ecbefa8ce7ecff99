package token

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/store"
)

// Denylist key prefixes. The token form is canonical; there is exactly
// one prefix per kind.
const (
	tokenKeyPrefix = "blacklist:token:"
	userKeyPrefix  = "blacklist:user:"

	// userCutoffTTL bounds how long an "all tokens before" cutoff is
	// kept. Matches the longest refresh lifetime.
	userCutoffTTL = 7 * 24 * time.Hour
)

// Denylist tracks revoked tokens until their natural expiry, plus
// per-user "everything issued before now" cutoffs.
type Denylist struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewDenylist creates a denylist over the given store.
func NewDenylist(st store.Store, logger zerolog.Logger) *Denylist {
	return &Denylist{
		store:  st,
		logger: logger.With().Str("component", "denylist").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the denylist clock. Test helper.
func (d *Denylist) SetClock(now func() time.Time) { d.now = now }

// Blacklist marks a token revoked until it expires on its own. Tokens
// already past expiry are not stored.
func (d *Denylist) Blacklist(ctx context.Context, raw string) error {
	exp, err := ExtractExpiry(raw)
	if err != nil {
		return err
	}
	ttl := exp.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	return d.store.Set(ctx, tokenKeyPrefix+raw, "1", ttl)
}

// IsBlacklisted reports whether the token has been revoked.
func (d *Denylist) IsBlacklisted(ctx context.Context, raw string) (bool, error) {
	return d.store.Exists(ctx, tokenKeyPrefix+raw)
}

type userCutoff struct {
	BlacklistedAt int64 `json:"blacklistedAt"` // unix ms
}

// BlacklistUser invalidates every token issued to the user before now.
func (d *Denylist) BlacklistUser(ctx context.Context, userID string) error {
	payload, err := json.Marshal(userCutoff{BlacklistedAt: d.now().UnixMilli()})
	if err != nil {
		return err
	}
	return d.store.Set(ctx, userKeyPrefix+userID, string(payload), userCutoffTTL)
}

// IsUserBlacklistedAt reports whether a token issued at iat (unix ms)
// predates the user's cutoff.
func (d *Denylist) IsUserBlacklistedAt(ctx context.Context, userID string, iatMs int64) (bool, error) {
	raw, err := d.store.Get(ctx, userKeyPrefix+userID)
	if errors.Is(err, store.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var cutoff userCutoff
	if err := json.Unmarshal([]byte(raw), &cutoff); err != nil {
		d.logger.Warn().Str("user_id", userID).Err(err).Msg("Corrupt user cutoff entry, ignoring")
		return false, nil
	}
	return iatMs < cutoff.BlacklistedAt, nil
}

// Check combines the token and user checks for access-token validation.
func (d *Denylist) Check(ctx context.Context, raw string, claims *Claims) (bool, error) {
	revoked, err := d.IsBlacklisted(ctx, raw)
	if err != nil || revoked {
		return revoked, err
	}
	if claims.IssuedAt == nil {
		return false, nil
	}
	return d.IsUserBlacklistedAt(ctx, claims.UserID, claims.IssuedAt.Time.UnixMilli())
}
