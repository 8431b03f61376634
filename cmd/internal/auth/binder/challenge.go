package binder

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ciphertalk/cmd/security/credential"
)

// DefaultChallengeTTL bounds how long a ceremony may take between start and
// finish.
const DefaultChallengeTTL = time.Minute

// ceremonyKind distinguishes registration from authentication challenges so
// a challenge started for one flow cannot finish the other.
type ceremonyKind uint8

const (
	ceremonyRegistration ceremonyKind = iota
	ceremonyAuthentication
)

type pendingChallenge struct {
	kind      ceremonyKind
	handle    string
	challenge string
	expiresAt time.Time
}

// challengeStore holds in-flight ceremony challenges. Challenges are single
// use: consume removes the entry whether or not verification later succeeds,
// so a failed attempt cannot retry against the same challenge.
type challengeStore struct {
	mu      sync.Mutex
	pending map[string]pendingChallenge
	ttl     time.Duration
}

func newChallengeStore(ttl time.Duration) *challengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &challengeStore{
		pending: make(map[string]pendingChallenge),
		ttl:     ttl,
	}
}

// issue creates a challenge for a ceremony and returns its id and value.
func (s *challengeStore) issue(kind ceremonyKind, handle string, now time.Time) (id, challenge string, err error) {
	challenge, err = credential.NewChallenge()
	if err != nil {
		return "", "", err
	}
	id = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gcLocked(now)
	s.pending[id] = pendingChallenge{
		kind:      kind,
		handle:    handle,
		challenge: challenge,
		expiresAt: now.Add(s.ttl),
	}
	return id, challenge, nil
}

// consume removes and returns the challenge for id if it matches kind and
// has not expired.
func (s *challengeStore) consume(id string, kind ceremonyKind, now time.Time) (pendingChallenge, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return pendingChallenge{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if !ok {
		return pendingChallenge{}, ErrChallengeNotFound
	}
	delete(s.pending, id)

	if p.kind != kind || !p.expiresAt.After(now) {
		return pendingChallenge{}, ErrChallengeNotFound
	}
	return p, nil
}

func (s *challengeStore) gcLocked(now time.Time) {
	for id, p := range s.pending {
		if !p.expiresAt.After(now) {
			delete(s.pending, id)
		}
	}
}
