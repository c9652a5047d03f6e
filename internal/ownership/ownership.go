// Package ownership implements the optional cross-instance ownership
// hint described by the gateway's cluster configuration: when multiple
// gateway processes share a Redis instance, each records which one
// currently owns a given engine identifier, so a request that lands on
// the wrong instance can be redirected instead of failing with
// does-not-exist.
//
// This is a hint, not a source of truth: the in-process registry each
// instance keeps is authoritative for engines it owns. Redis is
// consulted only to answer "who owns this identifier", and the hint is
// left in place on engine death so a redirect still resolves to the
// instance that can report the failure; it is only cleared on an
// explicit stop.
package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Hint records and resolves engine-identifier ownership across gateway
// instances sharing a Redis backend.
type Hint struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

// New connects to addr and scopes keys to instanceID, the value other
// instances will see when they resolve an identifier this one owns.
func New(addr, instanceID string, ttl time.Duration) *Hint {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Hint{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		instanceID: instanceID,
		ttl:        ttl,
	}
}

func (h *Hint) key(identifier string) string {
	return fmt.Sprintf("evalgw:owner:%s", identifier)
}

// Claim records this instance as the owner of identifier. Each call
// resets the TTL; the hint expires once the TTL passes without another
// Claim (procmanager claims once, when the engine starts).
func (h *Hint) Claim(ctx context.Context, identifier string) error {
	return h.client.Set(ctx, h.key(identifier), h.instanceID, h.ttl).Err()
}

// Release removes the ownership hint, called when an engine is
// explicitly stopped.
func (h *Hint) Release(ctx context.Context, identifier string) error {
	return h.client.Del(ctx, h.key(identifier)).Err()
}

// Resolve returns the instance ID that owns identifier, or "" if no
// instance has claimed it (never claimed, or the hint expired).
func (h *Hint) Resolve(ctx context.Context, identifier string) (string, error) {
	owner, err := h.client.Get(ctx, h.key(identifier)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

// IsLocal reports whether identifier's hint names this instance, which
// is the common case: the gateway that started an engine almost always
// also serves its later calls.
func (h *Hint) IsLocal(ctx context.Context, identifier string) (bool, error) {
	owner, err := h.Resolve(ctx, identifier)
	if err != nil {
		return false, err
	}
	return owner == "" || owner == h.instanceID, nil
}

// Close releases the underlying Redis client.
func (h *Hint) Close() error {
	return h.client.Close()
}
