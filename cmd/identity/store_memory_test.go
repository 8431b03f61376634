package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestUpsertUserByHandle_Idempotent(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	a, err := st.UpsertUserByHandle(ctx, "Gwen", now)
	if err != nil {
		t.Fatalf("UpsertUserByHandle: %v", err)
	}
	b, err := st.UpsertUserByHandle(ctx, "  gwen ", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertUserByHandle: %v", err)
	}

	if a.ID != b.ID {
		t.Fatalf("expected one user row, got %q and %q", a.ID, b.ID)
	}
	if a.Handle != "gwen" {
		t.Fatalf("handle not normalized: %q", a.Handle)
	}
}

func TestBindDevice_SingleDeviceInvariant(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, _ := st.UpsertUserByHandle(ctx, "gwen", now)

	d1, err := st.BindDevice(ctx, BindDeviceInput{UserID: u.ID, CredentialID: "cred-a", Now: now})
	if err != nil {
		t.Fatalf("BindDevice: %v", err)
	}

	// Second binding for the same user overwrites the credential in place
	// (device replacement), never creating a second device row.
	d2, err := st.BindDevice(ctx, BindDeviceInput{UserID: u.ID, CredentialID: "cred-b", Now: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("BindDevice replace: %v", err)
	}
	if d2.ID != d1.ID {
		t.Fatalf("expected same device row, got %q and %q", d1.ID, d2.ID)
	}
	if d2.CredentialID != "cred-b" {
		t.Fatalf("credential not rotated: %q", d2.CredentialID)
	}
	if d2.SignCount != 0 {
		t.Fatalf("counter must reset on rotation, got %d", d2.SignCount)
	}

	// The old credential no longer resolves.
	if _, err := st.GetDeviceByCredentialID(ctx, "cred-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for rotated-out credential, got %v", err)
	}
}

func TestBindDevice_CredentialConflict(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	gwen, _ := st.UpsertUserByHandle(ctx, "gwen", now)
	peter, _ := st.UpsertUserByHandle(ctx, "spiderman", now)

	if _, err := st.BindDevice(ctx, BindDeviceInput{UserID: gwen.ID, CredentialID: "shared-cred", Now: now}); err != nil {
		t.Fatalf("BindDevice: %v", err)
	}
	_, err := st.BindDevice(ctx, BindDeviceInput{UserID: peter.ID, CredentialID: "shared-cred", Now: now})
	if !errors.Is(err, ErrCredentialConflict) {
		t.Fatalf("expected ErrCredentialConflict, got %v", err)
	}
}

func TestBindDevice_ConcurrentRegistrationsConverge(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, _ := st.UpsertUserByHandle(ctx, "gwen", now)

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, _ = st.BindDevice(ctx, BindDeviceInput{
				UserID:       u.ID,
				CredentialID: "cred-" + string(rune('a'+i)),
				Now:          now,
			})
		}()
	}
	wg.Wait()

	// Regardless of interleaving exactly one device row survives.
	d, err := st.GetDeviceByUserID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetDeviceByUserID: %v", err)
	}
	count := 0
	st.mu.Lock()
	for _, dev := range st.devices {
		if dev.UserID == u.ID {
			count++
		}
	}
	st.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one device for user, got %d (last=%q)", count, d.ID)
	}
}

func TestResolver_PasswordPath(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	r := NewResolver(st)
	if err := r.SeedPasswordUser("gwen", "110606"); err != nil {
		t.Fatalf("SeedPasswordUser: %v", err)
	}

	ctx := context.Background()

	res, err := r.Resolve(ctx, PasswordCredential{Username: "gwen", Password: "110606"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.User.Handle != "gwen" || res.Device.UserID != res.User.ID {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	// Second resolution reuses the same user and synthetic device.
	again, err := r.Resolve(ctx, PasswordCredential{Username: "GWEN ", Password: "110606"})
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.User.ID != res.User.ID || again.Device.ID != res.Device.ID {
		t.Fatalf("legacy identity must be stable: %+v vs %+v", again, res)
	}

	if _, err := r.Resolve(ctx, PasswordCredential{Username: "gwen", Password: "999999"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, err := r.Resolve(ctx, PasswordCredential{Username: "venom", Password: "110606"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for unknown user, got %v", err)
	}
}
