// Package lease provides short-lived named leases so that two invocations do not
// create or renew the same user's watch channel at the same time.
package lease

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 2 * time.Minute

// ErrHeld is returned when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease held by another owner")

// Lease is one held lease.
type Lease struct {
	Key       string `dynamodbav:"lease_key"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // Unix seconds, also the table TTL attribute
}

// Locker acquires and releases leases.
type Locker interface {
	// Acquire succeeds when no lease exists, the lease expired, or owner already holds it.
	Acquire(ctx context.Context, key, owner string) (*Lease, error)
	// Release removes the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error
}

// WatchKey is the lease key guarding a user's calendar subscription.
func WatchKey(userID, calendarID string) string {
	return "watch:" + userID + ":" + calendarID
}
