package apikeys_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tonearm/internal/apikeys"
	"tonearm/internal/testsupport"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newStore(t *testing.T) (*apikeys.Store, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queueStore := testsupport.MustOpenStore(t, cfg)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := apikeys.NewStore(queueStore.DB(), 0)
	store.SetClock(clock.Now)
	return store, clock
}

func TestCreateAppliesDefaultValidity(t *testing.T) {
	store, clock := newStore(t)
	key, err := store.Create(context.Background(), "  mobile app ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key.Key == "" || key.Label != "mobile app" {
		t.Fatalf("unexpected key: %+v", key)
	}
	if got := key.ExpiresAt.Sub(clock.now); got != 180*24*time.Hour {
		t.Fatalf("validity = %s, want 180 days", got)
	}
	ok, err := store.Valid(context.Background(), key.Key)
	if err != nil || !ok {
		t.Fatalf("Valid = %v, %v; want true", ok, err)
	}
}

func TestKeyExpires(t *testing.T) {
	store, clock := newStore(t)
	key, err := store.Create(context.Background(), "short")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.now = key.ExpiresAt
	ok, err := store.Valid(context.Background(), key.Key)
	if err != nil {
		t.Fatalf("Valid: %v", err)
	}
	if ok {
		t.Fatal("key must be invalid once expires_at is reached")
	}
	keys, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expired key listed: %+v", keys)
	}
}

func TestRevoke(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	keep, err := store.Create(ctx, "keep")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	drop, err := store.Create(ctx, "drop")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Revoke(ctx, drop.Key); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := store.Revoke(ctx, drop.Key); !errors.Is(err, apikeys.ErrNotFound) {
		t.Fatalf("second Revoke error = %v, want ErrNotFound", err)
	}
	if ok, _ := store.Valid(ctx, drop.Key); ok {
		t.Fatal("revoked key still valid")
	}
	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != keep.Key {
		t.Fatalf("List = %+v, want only %s", keys, keep.Key)
	}
}

func TestValidUnknownKey(t *testing.T) {
	store, _ := newStore(t)
	for _, key := range []string{"", "nope"} {
		ok, err := store.Valid(context.Background(), key)
		if err != nil || ok {
			t.Fatalf("Valid(%q) = %v, %v; want false, nil", key, ok, err)
		}
	}
}

func TestPurgeRemovesDeadKeys(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()
	dead, _ := store.Create(ctx, "dead")
	if err := store.Revoke(ctx, dead.Key); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Create(ctx, "live"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.now = clock.now.Add(time.Hour)
	removed, err := store.Purge(ctx, clock.now)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
