package ownership

import (
	"context"
	"testing"
	"time"
)

func newTestHint(t *testing.T, instanceID string) *Hint {
	t.Helper()
	h := New("localhost:6379", instanceID, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		h.client.FlushDB(context.Background())
		h.Close()
	})
	return h
}

func TestClaimThenResolve(t *testing.T) {
	h := newTestHint(t, "gw-1")
	ctx := context.Background()

	if err := h.Claim(ctx, "engine-1"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	owner, err := h.Resolve(ctx, "engine-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if owner != "gw-1" {
		t.Fatalf("expected gw-1, got %q", owner)
	}
}

func TestUnclaimedResolvesEmpty(t *testing.T) {
	h := newTestHint(t, "gw-1")
	owner, err := h.Resolve(context.Background(), "never-claimed")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected empty owner, got %q", owner)
	}
}

func TestIsLocalTrueWhenUnclaimedOrOwnedHere(t *testing.T) {
	h := newTestHint(t, "gw-1")
	ctx := context.Background()

	local, err := h.IsLocal(ctx, "engine-2")
	if err != nil || !local {
		t.Fatalf("expected unclaimed identifier to be local, got %v/%v", local, err)
	}

	h.Claim(ctx, "engine-2")
	local, err = h.IsLocal(ctx, "engine-2")
	if err != nil || !local {
		t.Fatalf("expected self-claimed identifier to be local, got %v/%v", local, err)
	}
}

func TestIsLocalFalseForOtherOwner(t *testing.T) {
	h := newTestHint(t, "gw-1")
	other := newTestHint(t, "gw-2")
	ctx := context.Background()

	other.Claim(ctx, "engine-3")
	local, err := h.IsLocal(ctx, "engine-3")
	if err != nil || local {
		t.Fatalf("expected identifier owned by gw-2 to be non-local, got %v/%v", local, err)
	}
}

func TestReleaseClearsOwnership(t *testing.T) {
	h := newTestHint(t, "gw-1")
	ctx := context.Background()

	h.Claim(ctx, "engine-4")
	if err := h.Release(ctx, "engine-4"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	owner, err := h.Resolve(ctx, "engine-4")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected cleared ownership, got %q", owner)
	}
}
