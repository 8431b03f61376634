package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ciphertalk/cmd/internal/observability/metrics"
	"ciphertalk/cmd/security/token"
)

// DefaultTokenTTL is how long a minted unlock token stays redeemable.
const DefaultTokenTTL = 15 * time.Minute

// TokenService mints and verifies single-use unlock tokens. Tokens are
// opaque UUIDs; only their digest is persisted, so a leaked store dump
// cannot be replayed.
type TokenService struct {
	store       TokenStore
	limiter     *KeyedLimiter
	mintLimiter *KeyedLimiter
	ttl         time.Duration
	log         *slog.Logger
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenTTL overrides the mint TTL.
func WithTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithVerifyLimit overrides the per-device verification attempt budget.
func WithVerifyLimit(limit int, window time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.limiter = NewKeyedLimiter(limit, window)
	}
}

// WithMintLimit overrides the per-device mint budget.
func WithMintLimit(limit int, window time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		s.mintLimiter = NewKeyedLimiter(limit, window)
	}
}

// NewTokenService constructs a TokenService.
func NewTokenService(store TokenStore, log *slog.Logger, opts ...TokenServiceOption) *TokenService {
	if log == nil {
		log = slog.Default()
	}
	s := &TokenService{
		store:       store,
		limiter:     NewKeyedLimiter(verifyLimitEvents, verifyLimitWindow),
		mintLimiter: NewKeyedLimiter(mintLimitEvents, mintLimitWindow),
		ttl:         DefaultTokenTTL,
		log:         log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Mint creates a fresh unlock token bound to deviceID and returns the plain
// value. This is the only time the plain token exists server-side.
func (s *TokenService) Mint(ctx context.Context, deviceID string, now time.Time) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if !s.mintLimiter.Allow(deviceID, now) {
		s.log.WarnContext(ctx, "gate.token.mint.rate_limited", "device_id", deviceID)
		return "", ErrRateLimited
	}

	plain := uuid.NewString()
	err := s.store.Put(ctx, UnlockToken{
		TokenHash: token.HashUnlockTokenHex(plain),
		DeviceID:  deviceID,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return "", err
	}

	metrics.UnlockTokensMintedTotal.Inc()
	s.log.InfoContext(ctx, "gate.token.mint", "device_id", deviceID, "ttl", s.ttl.String())
	return plain, nil
}

// Verify atomically consumes the token for deviceID. A token verifies at
// most once; retries, replays, wrong-device and expired presentations all
// come back as ErrTokenNotFound.
func (s *TokenService) Verify(ctx context.Context, plain, deviceID string, now time.Time) error {
	plain = strings.TrimSpace(plain)
	deviceID = strings.TrimSpace(deviceID)
	if plain == "" || deviceID == "" {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if !s.limiter.Allow(deviceID, now) {
		metrics.UnlockTokenVerifyTotal.WithLabelValues("rate_limited").Inc()
		s.log.WarnContext(ctx, "gate.token.verify.rate_limited", "device_id", deviceID)
		return ErrRateLimited
	}

	err := s.store.Consume(ctx, token.HashUnlockTokenHex(plain), deviceID, now)
	if errors.Is(err, ErrTokenNotFound) {
		metrics.UnlockTokenVerifyTotal.WithLabelValues("denied").Inc()
		s.log.InfoContext(ctx, "gate.token.verify.denied", "device_id", deviceID)
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}

	metrics.UnlockTokenVerifyTotal.WithLabelValues("ok").Inc()
	s.log.InfoContext(ctx, "gate.token.verify.ok", "device_id", deviceID)
	return nil
}
