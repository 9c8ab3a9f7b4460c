// Package queue is the delayed, at-least-once delivery queue that calls back into
// the service: one-shot reminder jobs and the recurring renewal sweep.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Queue schedules payloads for later delivery.
type Queue interface {
	// Publish schedules payload for delivery at or after notBefore and returns the job id.
	Publish(ctx context.Context, payload []byte, notBefore time.Time) (string, error)
	// Cancel deletes a pending job. A job that already fired or is unknown is not an error.
	Cancel(ctx context.Context, jobID string) error
	// ScheduleCron registers (or replaces) a recurring delivery of payload to destination.
	ScheduleCron(ctx context.Context, cronExpr string, payload []byte, destination string) (string, error)
}

// SchedulerOptions configures the EventBridge Scheduler backend.
type SchedulerOptions struct {
	Client    SchedulerAPI
	TargetARN string
	RoleARN   string
}

// FromDSN builds a Queue from a DSN: "memory://" or "scheduler://<group>".
func FromDSN(dsn string, opts SchedulerOptions) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("queue dsn is empty")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid queue dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryQueue(), nil
	case "scheduler", "eventbridge":
		if opts.Client == nil {
			return nil, fmt.Errorf("scheduler queue requires an EventBridge Scheduler client")
		}
		if opts.TargetARN == "" || opts.RoleARN == "" {
			return nil, fmt.Errorf("scheduler queue requires SCHEDULER_TARGET_ARN and SCHEDULER_ROLE_ARN")
		}
		group := parsed.Host
		if group == "" {
			group = "default"
		}
		return NewSchedulerQueue(opts.Client, group, opts.TargetARN, opts.RoleARN), nil
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", parsed.Scheme)
	}
}

// cronName derives a stable schedule name so re-registration replaces rather than duplicates.
func cronName(destination string, payload []byte) string {
	sum := sha256.Sum256(append([]byte(destination+"\n"), payload...))
	return "cron-" + hex.EncodeToString(sum[:8])
}
