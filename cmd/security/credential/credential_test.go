package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func TestNewChallengeIsUnique(t *testing.T) {
	t.Parallel()

	a, err := NewChallenge()
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	b, err := NewChallenge()
	if err != nil {
		t.Fatalf("NewChallenge: %v", err)
	}
	if a == "" || a == b {
		t.Fatalf("challenges must be non-empty and unique: %q %q", a, b)
	}
}

func TestVerifyRegistration(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	challenge, _ := NewChallenge()
	att := Attestation{
		CredentialID: "cred-1",
		PublicKey:    pub,
		Signature:    ed25519.Sign(priv, []byte(challenge)),
	}

	if err := VerifyRegistration(att, challenge); err != nil {
		t.Fatalf("VerifyRegistration: %v", err)
	}

	if err := VerifyRegistration(att, "different-challenge"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	att.CredentialID = ""
	if err := VerifyRegistration(att, challenge); !errors.Is(err, ErrInvalidAttestation) {
		t.Fatalf("expected ErrInvalidAttestation, got %v", err)
	}
}

func TestVerifyAssertionRejectsForeignKey(t *testing.T) {
	t.Parallel()

	_, privA, _ := ed25519.GenerateKey(rand.Reader)
	pubB, _, _ := ed25519.GenerateKey(rand.Reader)

	challenge, _ := NewChallenge()
	sig := ed25519.Sign(privA, []byte(challenge))

	if err := VerifyAssertion(pubB, challenge, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCheckCounter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stored    uint32
		presented uint32
		wantErr   bool
	}{
		{stored: 0, presented: 1, wantErr: false},
		{stored: 5, presented: 6, wantErr: false},
		{stored: 5, presented: 5, wantErr: true},
		{stored: 5, presented: 4, wantErr: true},
		{stored: 0, presented: 0, wantErr: true},
	}

	for _, tc := range cases {
		err := CheckCounter(tc.stored, tc.presented)
		if tc.wantErr && !errors.Is(err, ErrCounterReplay) {
			t.Fatalf("CheckCounter(%d,%d): expected ErrCounterReplay, got %v", tc.stored, tc.presented, err)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("CheckCounter(%d,%d): unexpected err %v", tc.stored, tc.presented, err)
		}
	}
}
