package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/google/uuid"
)

// minLead keeps one-shot schedules in the future; EventBridge rejects past at() times.
const minLead = time.Minute

// SchedulerAPI is the subset of *scheduler.Client methods used by SchedulerQueue.
type SchedulerAPI interface {
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, params *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
}

// SchedulerQueue implements Queue on Amazon EventBridge Scheduler. Every job is a
// schedule in one group whose target (the worker Lambda) receives the payload.
type SchedulerQueue struct {
	client    SchedulerAPI
	group     string
	targetARN string
	roleARN   string
	now       func() time.Time
}

// NewSchedulerQueue creates a SchedulerQueue.
func NewSchedulerQueue(client SchedulerAPI, group, targetARN, roleARN string) *SchedulerQueue {
	return &SchedulerQueue{
		client:    client,
		group:     group,
		targetARN: targetARN,
		roleARN:   roleARN,
		now:       time.Now,
	}
}

// atExpression formats a one-shot schedule time. Past times are clamped forward.
func atExpression(notBefore, now time.Time) string {
	if earliest := now.Add(minLead); notBefore.Before(earliest) {
		notBefore = earliest
	}
	return "at(" + notBefore.UTC().Format("2006-01-02T15:04:05") + ")"
}

func (q *SchedulerQueue) target(arn string, payload []byte) *types.Target {
	return &types.Target{
		Arn:     aws.String(arn),
		RoleArn: aws.String(q.roleARN),
		Input:   aws.String(string(payload)),
	}
}

func (q *SchedulerQueue) Publish(ctx context.Context, payload []byte, notBefore time.Time) (string, error) {
	name := "reminder-" + uuid.NewString()
	_, err := q.client.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                       aws.String(name),
		GroupName:                  aws.String(q.group),
		ScheduleExpression:         aws.String(atExpression(notBefore, q.now())),
		ScheduleExpressionTimezone: aws.String("UTC"),
		FlexibleTimeWindow:         &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		ActionAfterCompletion:      types.ActionAfterCompletionDelete,
		Target:                     q.target(q.targetARN, payload),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create schedule: %w", err)
	}
	return name, nil
}

func (q *SchedulerQueue) Cancel(ctx context.Context, jobID string) error {
	_, err := q.client.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:      aws.String(jobID),
		GroupName: aws.String(q.group),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to delete schedule %s: %w", jobID, err)
	}
	return nil
}

// ScheduleCron registers a cron() schedule. destination is a target ARN; empty
// targets the default worker.
func (q *SchedulerQueue) ScheduleCron(ctx context.Context, cronExpr string, payload []byte, destination string) (string, error) {
	arn := destination
	if arn == "" {
		arn = q.targetARN
	}
	if !strings.HasPrefix(arn, "arn:") {
		return "", fmt.Errorf("cron destination %q is not an ARN", arn)
	}
	name := cronName(arn, payload)

	_, err := q.client.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:               aws.String(name),
		GroupName:          aws.String(q.group),
		ScheduleExpression: aws.String(cronExpr),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		Target:             q.target(arn, payload),
	})
	if err == nil {
		return name, nil
	}

	var conflict *types.ConflictException
	if !errors.As(err, &conflict) {
		return "", fmt.Errorf("failed to create cron schedule: %w", err)
	}
	_, err = q.client.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:               aws.String(name),
		GroupName:          aws.String(q.group),
		ScheduleExpression: aws.String(cronExpr),
		FlexibleTimeWindow: &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		Target:             q.target(arn, payload),
	})
	if err != nil {
		return "", fmt.Errorf("failed to update cron schedule: %w", err)
	}
	return name, nil
}
