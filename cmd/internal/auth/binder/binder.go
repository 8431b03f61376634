// Package binder implements the device-binding ceremonies: a challenge and
// response registration flow that binds one hardware credential to a user,
// and the matching authentication flow that proves possession on later
// visits. Both flows end with a refreshed session in the ledger.
package binder

import (
	"context"
	"log/slog"
	"time"

	"ciphertalk/cmd/identity"
	"ciphertalk/cmd/internal/auth/session"
	"ciphertalk/cmd/security/credential"
)

// Service runs the ceremonies.
type Service struct {
	log        *slog.Logger
	store      identity.Store
	ledger     *session.Ledger
	challenges *challengeStore
	sessionTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithChallengeTTL overrides the ceremony deadline.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.challenges = newChallengeStore(ttl)
	}
}

// WithSessionTTL overrides the session lifetime granted on finish.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewService constructs the binder service.
func NewService(store identity.Store, ledger *session.Ledger, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:        log,
		store:      store,
		ledger:     ledger,
		challenges: newChallengeStore(DefaultChallengeTTL),
		sessionTTL: session.DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Challenge is the start-phase response handed to the client.
type Challenge struct {
	ChallengeID string
	Challenge   string
}

// Result is the finish-phase outcome: the bound identity plus a live session.
type Result struct {
	User    identity.User
	Device  identity.Device
	Session session.Session
}

// StartRegistration issues a registration challenge for handle.
func (s *Service) StartRegistration(ctx context.Context, handle string) (Challenge, error) {
	norm := identity.NormalizeHandle(handle)
	if norm == "" {
		return Challenge{}, ErrInvalidInput
	}

	now := time.Now().UTC()
	id, ch, err := s.challenges.issue(ceremonyRegistration, norm, now)
	if err != nil {
		return Challenge{}, err
	}

	s.log.InfoContext(ctx, "binder.registration.start", "handle", norm, "challenge_id", id)
	return Challenge{ChallengeID: id, Challenge: ch}, nil
}

// FinishRegistration verifies the attestation and binds the credential.
//
// Binding is single-device: a user finishing registration from a new
// authenticator rotates the credential on their existing device row rather
// than accumulating devices. A credential already owned by a different user
// fails with identity.ErrCredentialConflict.
func (s *Service) FinishRegistration(ctx context.Context, challengeID string, att credential.Attestation) (Result, error) {
	now := time.Now().UTC()

	p, err := s.challenges.consume(challengeID, ceremonyRegistration, now)
	if err != nil {
		return Result{}, err
	}

	if err := credential.VerifyRegistration(att, p.challenge); err != nil {
		s.log.InfoContext(ctx, "binder.registration.reject", "handle", p.handle, "error", err)
		return Result{}, err
	}

	u, err := s.store.UpsertUserByHandle(ctx, p.handle, now)
	if err != nil {
		return Result{}, err
	}

	d, err := s.store.BindDevice(ctx, identity.BindDeviceInput{
		UserID:       u.ID,
		CredentialID: att.CredentialID,
		PublicKey:    att.PublicKey,
		Now:          now,
	})
	if err != nil {
		return Result{}, err
	}

	sess, err := s.ledger.CreateOrRefresh(ctx, d.ID, s.sessionTTL)
	if err != nil {
		return Result{}, err
	}

	s.log.InfoContext(ctx, "binder.registration.finish",
		"handle", u.Handle, "user_id", u.ID, "device_id", d.ID)
	return Result{User: u, Device: d, Session: sess}, nil
}

// StartAuthentication issues an authentication challenge. The flow is
// credential-first: the client identifies itself by credential id at finish,
// so no handle is needed here.
func (s *Service) StartAuthentication(ctx context.Context) (Challenge, error) {
	now := time.Now().UTC()
	id, ch, err := s.challenges.issue(ceremonyAuthentication, "", now)
	if err != nil {
		return Challenge{}, err
	}

	s.log.InfoContext(ctx, "binder.authentication.start", "challenge_id", id)
	return Challenge{ChallengeID: id, Challenge: ch}, nil
}

// FinishAuthentication verifies the assertion against the stored credential,
// advances the anti-replay counter and refreshes the session.
func (s *Service) FinishAuthentication(ctx context.Context, challengeID string, att credential.Attestation) (Result, error) {
	now := time.Now().UTC()

	p, err := s.challenges.consume(challengeID, ceremonyAuthentication, now)
	if err != nil {
		return Result{}, err
	}

	d, err := s.store.GetDeviceByCredentialID(ctx, att.CredentialID)
	if err != nil {
		return Result{}, err
	}

	if err := credential.VerifyAssertion(d.PublicKey, p.challenge, att.Signature); err != nil {
		s.log.InfoContext(ctx, "binder.authentication.reject", "device_id", d.ID, "error", err)
		return Result{}, err
	}
	if err := credential.CheckCounter(d.SignCount, att.SignCount); err != nil {
		s.log.WarnContext(ctx, "binder.authentication.counter_replay",
			"device_id", d.ID, "stored", d.SignCount, "presented", att.SignCount)
		return Result{}, err
	}
	if err := s.store.UpdateSignCount(ctx, d.ID, att.SignCount, now); err != nil {
		return Result{}, err
	}
	d.SignCount = att.SignCount

	u, err := s.store.GetUserByID(ctx, d.UserID)
	if err != nil {
		return Result{}, err
	}

	sess, err := s.ledger.CreateOrRefresh(ctx, d.ID, s.sessionTTL)
	if err != nil {
		return Result{}, err
	}

	s.log.InfoContext(ctx, "binder.authentication.finish",
		"handle", u.Handle, "device_id", d.ID, "sign_count", d.SignCount)
	return Result{User: u, Device: d, Session: sess}, nil
}
