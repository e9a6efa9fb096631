// Package lock provides the per-contact lease that keeps two workers from
// evaluating and sending for the same contact at once.
package lock

import (
	"context"
	"fmt"
	"time"

	"whatsapp-crm/internal/sequence"
)

// ErrLeaseHeld is returned by Acquire when someone else owns the key.
var ErrLeaseHeld = sequence.ErrLeaseHeld

// Locker hands out exclusive, expiring leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is an acquired key. Releasing an expired or stolen lease is a no-op.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Guard adapts l to the engine's per-contact guard using ContactKey.
func Guard(l Locker, ttl time.Duration) sequence.ContactGuard {
	return func(ctx context.Context, contactID uint) (func(), error) {
		lease, err := l.Acquire(ctx, ContactKey(contactID), ttl)
		if err != nil {
			return nil, err
		}
		return func() { _ = lease.Release(context.Background()) }, nil
	}
}

// ContactKey is the lease key guarding one contact's sequence.
func ContactKey(contactID uint) string {
	return fmt.Sprintf("contact:%d", contactID)
}
