package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestTokenService_MintVerify(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	plain, err := svc.Mint(ctx, "dev-1", now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if plain == "" {
		t.Fatalf("Mint returned an empty token")
	}

	if err := svc.Verify(ctx, plain, "dev-1", now); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Single use: the second presentation must fail.
	if err := svc.Verify(ctx, plain, "dev-1", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("replay: got=%v want=%v", err, ErrTokenNotFound)
	}
}

func TestTokenService_WrongDevice(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	plain, err := svc.Mint(ctx, "dev-1", now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := svc.Verify(ctx, plain, "dev-2", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("wrong device: got=%v want=%v", err, ErrTokenNotFound)
	}
	// The failed attempt must not have consumed the token.
	if err := svc.Verify(ctx, plain, "dev-1", now); err != nil {
		t.Fatalf("owner verify after wrong-device attempt: %v", err)
	}
}

func TestTokenService_Expiry(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger(), WithTokenTTL(time.Minute))
	ctx := context.Background()
	now := time.Now().UTC()

	plain, err := svc.Mint(ctx, "dev-1", now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	late := now.Add(2 * time.Minute)
	if err := svc.Verify(ctx, plain, "dev-1", late); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expired: got=%v want=%v", err, ErrTokenNotFound)
	}
}

func TestTokenService_ConcurrentConsumeOnce(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger(),
		WithVerifyLimit(1000, time.Minute))
	ctx := context.Background()
	now := time.Now().UTC()

	plain, err := svc.Mint(ctx, "dev-1", now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	const workers = 16
	var ok atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := svc.Verify(ctx, plain, "dev-1", now); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := ok.Load(); got != 1 {
		t.Fatalf("exactly one concurrent verify may succeed, got %d", got)
	}
}

func TestTokenService_RateLimited(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger(),
		WithVerifyLimit(3, time.Minute))
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := svc.Verify(ctx, "nope", "dev-1", now)
		if !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("attempt %d: got=%v want=%v", i, err, ErrTokenNotFound)
		}
	}
	if err := svc.Verify(ctx, "nope", "dev-1", now); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got=%v want=%v", err, ErrRateLimited)
	}

	// The budget is per device.
	if err := svc.Verify(ctx, "nope", "dev-2", now); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("other device must not be throttled: got=%v", err)
	}
}

func TestTokenService_MintRateLimited(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(NewInMemoryTokenStore(), discardLogger(),
		WithMintLimit(3, time.Minute))
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if _, err := svc.Mint(ctx, "dev-1", now); err != nil {
			t.Fatalf("mint %d: %v", i, err)
		}
	}
	if _, err := svc.Mint(ctx, "dev-1", now); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got=%v want=%v", err, ErrRateLimited)
	}

	// The budget is per device.
	if _, err := svc.Mint(ctx, "dev-2", now); err != nil {
		t.Fatalf("other device must not be throttled: %v", err)
	}

	// The window slides: the oldest mint falls out and frees one slot.
	later := now.Add(2 * time.Minute)
	if _, err := svc.Mint(ctx, "dev-1", later); err != nil {
		t.Fatalf("mint after window: %v", err)
	}
}
