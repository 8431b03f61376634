package binder

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"testing"
	"time"

	"ciphertalk/cmd/identity"
	"ciphertalk/cmd/internal/auth/session"
	"ciphertalk/cmd/security/credential"
)

func newTestService(t *testing.T) (*Service, identity.Store, *session.Ledger) {
	t.Helper()
	st := identity.NewInMemoryStore()
	ledger := session.NewLedger(session.NewInMemoryStore())
	svc := NewService(st, ledger, slog.New(slog.DiscardHandler))
	return svc, st, ledger
}

func register(t *testing.T, svc *Service, handle, credID string, priv ed25519.PrivateKey) Result {
	t.Helper()
	ctx := context.Background()

	ch, err := svc.StartRegistration(ctx, handle)
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}

	res, err := svc.FinishRegistration(ctx, ch.ChallengeID, credential.Attestation{
		CredentialID: credID,
		PublicKey:    priv.Public().(ed25519.PublicKey),
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
	})
	if err != nil {
		t.Fatalf("FinishRegistration: %v", err)
	}
	return res
}

func authenticate(t *testing.T, svc *Service, credID string, priv ed25519.PrivateKey, signCount uint32) (Result, error) {
	t.Helper()
	ctx := context.Background()

	ch, err := svc.StartAuthentication(ctx)
	if err != nil {
		t.Fatalf("StartAuthentication: %v", err)
	}
	return svc.FinishAuthentication(ctx, ch.ChallengeID, credential.Attestation{
		CredentialID: credID,
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
		SignCount:    signCount,
	})
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()

	svc, _, ledger := newTestService(t)
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	res := register(t, svc, "Gwen", "cred-1", priv)
	if res.User.Handle != "gwen" {
		t.Fatalf("handle not normalized: %q", res.User.Handle)
	}
	if res.Device.CredentialID != "cred-1" {
		t.Fatalf("credential id: %q", res.Device.CredentialID)
	}

	// Registration must leave a live session behind.
	ok, err := ledger.IsValid(context.Background(), res.Device.ID)
	if err != nil || !ok {
		t.Fatalf("session after registration: ok=%v err=%v", ok, err)
	}
}

func TestAuthenticationFlow(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	reg := register(t, svc, "gwen", "cred-1", priv)

	res, err := authenticate(t, svc, "cred-1", priv, 1)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if res.Device.ID != reg.Device.ID {
		t.Fatalf("authentication resolved a different device: %q vs %q", res.Device.ID, reg.Device.ID)
	}
	if res.Device.SignCount != 1 {
		t.Fatalf("sign count not advanced: %d", res.Device.SignCount)
	}
}

func TestAuthentication_CounterReplayRejected(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	register(t, svc, "gwen", "cred-1", priv)

	if _, err := authenticate(t, svc, "cred-1", priv, 5); err != nil {
		t.Fatalf("first authentication: %v", err)
	}

	// Replaying the same counter must fail.
	if _, err := authenticate(t, svc, "cred-1", priv, 5); !errors.Is(err, credential.ErrCounterReplay) {
		t.Fatalf("got=%v want=%v", err, credential.ErrCounterReplay)
	}

	// A strictly higher counter recovers.
	if _, err := authenticate(t, svc, "cred-1", priv, 6); err != nil {
		t.Fatalf("recovery authentication: %v", err)
	}
}

func TestAuthentication_WrongKeyRejected(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, imposter, _ := ed25519.GenerateKey(rand.Reader)
	register(t, svc, "gwen", "cred-1", priv)

	_, err := authenticate(t, svc, "cred-1", imposter, 1)
	if !errors.Is(err, credential.ErrInvalidSignature) {
		t.Fatalf("got=%v want=%v", err, credential.ErrInvalidSignature)
	}
}

func TestRegistration_DeviceReplacement(t *testing.T) {
	t.Parallel()

	svc, st, _ := newTestService(t)
	_, oldKey, _ := ed25519.GenerateKey(rand.Reader)
	_, newKey, _ := ed25519.GenerateKey(rand.Reader)

	first := register(t, svc, "gwen", "cred-old", oldKey)
	if _, err := authenticate(t, svc, "cred-old", oldKey, 3); err != nil {
		t.Fatalf("authenticate old credential: %v", err)
	}

	// Re-registering rotates the credential on the same device row and
	// resets the counter.
	second := register(t, svc, "gwen", "cred-new", newKey)
	if second.Device.ID != first.Device.ID {
		t.Fatalf("replacement must reuse the device row: %q vs %q", second.Device.ID, first.Device.ID)
	}
	if second.Device.SignCount != 0 {
		t.Fatalf("replacement must reset the counter: %d", second.Device.SignCount)
	}

	// The old credential no longer resolves.
	if _, err := st.GetDeviceByCredentialID(context.Background(), "cred-old"); !identity.IsNotFound(err) {
		t.Fatalf("old credential still resolvable: %v", err)
	}
}

func TestRegistration_CredentialConflict(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	register(t, svc, "gwen", "cred-1", priv)

	ch, err := svc.StartRegistration(ctx, "spiderman")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	_, err = svc.FinishRegistration(ctx, ch.ChallengeID, credential.Attestation{
		CredentialID: "cred-1",
		PublicKey:    priv.Public().(ed25519.PublicKey),
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
	})
	if !errors.Is(err, identity.ErrCredentialConflict) {
		t.Fatalf("got=%v want=%v", err, identity.ErrCredentialConflict)
	}
}

func TestChallenge_SingleUse(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	ch, err := svc.StartRegistration(ctx, "gwen")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}

	att := credential.Attestation{
		CredentialID: "cred-1",
		PublicKey:    priv.Public().(ed25519.PublicKey),
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
	}
	if _, err := svc.FinishRegistration(ctx, ch.ChallengeID, att); err != nil {
		t.Fatalf("FinishRegistration: %v", err)
	}

	// Replaying the finished ceremony must fail.
	if _, err := svc.FinishRegistration(ctx, ch.ChallengeID, att); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got=%v want=%v", err, ErrChallengeNotFound)
	}
}

func TestChallenge_Expiry(t *testing.T) {
	t.Parallel()

	svc := NewService(identity.NewInMemoryStore(),
		session.NewLedger(session.NewInMemoryStore()),
		slog.New(slog.DiscardHandler),
		WithChallengeTTL(time.Nanosecond))
	ctx := context.Background()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	ch, err := svc.StartRegistration(ctx, "gwen")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	time.Sleep(time.Millisecond)

	_, err = svc.FinishRegistration(ctx, ch.ChallengeID, credential.Attestation{
		CredentialID: "cred-1",
		PublicKey:    priv.Public().(ed25519.PublicKey),
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
	})
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got=%v want=%v", err, ErrChallengeNotFound)
	}
}

func TestChallenge_KindMismatch(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	register(t, svc, "gwen", "cred-1", priv)

	// An authentication challenge cannot finish a registration.
	ch, err := svc.StartAuthentication(ctx)
	if err != nil {
		t.Fatalf("StartAuthentication: %v", err)
	}
	_, err = svc.FinishRegistration(ctx, ch.ChallengeID, credential.Attestation{
		CredentialID: "cred-2",
		PublicKey:    priv.Public().(ed25519.PublicKey),
		Signature:    ed25519.Sign(priv, []byte(ch.Challenge)),
	})
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("got=%v want=%v", err, ErrChallengeNotFound)
	}
}
