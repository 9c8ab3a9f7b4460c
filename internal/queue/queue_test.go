package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
)

type fakeScheduler struct {
	created   []*scheduler.CreateScheduleInput
	updated   []*scheduler.UpdateScheduleInput
	deleted   []string
	createErr error
	deleteErr error
}

func (f *fakeScheduler) CreateSchedule(_ context.Context, in *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &scheduler.CreateScheduleOutput{}, nil
}

func (f *fakeScheduler) UpdateSchedule(_ context.Context, in *scheduler.UpdateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error) {
	f.updated = append(f.updated, in)
	return &scheduler.UpdateScheduleOutput{}, nil
}

func (f *fakeScheduler) DeleteSchedule(_ context.Context, in *scheduler.DeleteScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error) {
	f.deleted = append(f.deleted, *in.Name)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &scheduler.DeleteScheduleOutput{}, nil
}

func TestAtExpression(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		notBefore time.Time
		want      string
	}{
		{"future", now.Add(24 * time.Hour), "at(2026-03-02T10:00:00)"},
		{"past is clamped", now.Add(-time.Hour), "at(2026-03-01T10:01:00)"},
		{"converted to utc", time.Date(2026, 3, 5, 12, 0, 0, 0, time.FixedZone("CET", 3600)), "at(2026-03-05T11:00:00)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := atExpression(tt.notBefore, now); got != tt.want {
				t.Errorf("atExpression = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchedulerQueue_PublishAndCancel(t *testing.T) {
	f := &fakeScheduler{}
	q := NewSchedulerQueue(f, "calsync", "arn:aws:lambda:worker", "arn:aws:iam::role")
	ctx := context.Background()

	id, err := q.Publish(ctx, []byte(`{"kind":"reminder.fire"}`), time.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !strings.HasPrefix(id, "reminder-") {
		t.Errorf("job id = %q", id)
	}
	in := f.created[0]
	if *in.GroupName != "calsync" || in.ActionAfterCompletion != types.ActionAfterCompletionDelete {
		t.Errorf("unexpected create input: %+v", in)
	}
	if *in.Target.Input != `{"kind":"reminder.fire"}` || *in.Target.Arn != "arn:aws:lambda:worker" {
		t.Errorf("unexpected target: %+v", in.Target)
	}

	if err := q.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(f.deleted) != 1 || f.deleted[0] != id {
		t.Errorf("deleted = %v", f.deleted)
	}
}

func TestSchedulerQueue_CancelNotFound(t *testing.T) {
	f := &fakeScheduler{deleteErr: &types.ResourceNotFoundException{}}
	q := NewSchedulerQueue(f, "calsync", "arn:t", "arn:r")
	if err := q.Cancel(context.Background(), "reminder-gone"); err != nil {
		t.Errorf("expected nil for not found, got %v", err)
	}

	f.deleteErr = errors.New("throttled")
	if err := q.Cancel(context.Background(), "reminder-x"); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestSchedulerQueue_ScheduleCronReplaces(t *testing.T) {
	f := &fakeScheduler{createErr: &types.ConflictException{}}
	q := NewSchedulerQueue(f, "calsync", "arn:t", "arn:r")

	id, err := q.ScheduleCron(context.Background(), "cron(0 */6 * * ? *)", []byte(`{"kind":"watch.renew"}`), "")
	if err != nil {
		t.Fatalf("ScheduleCron failed: %v", err)
	}
	if len(f.updated) != 1 || *f.updated[0].Name != id {
		t.Errorf("expected update of %s, got %+v", id, f.updated)
	}

	again, _ := q.ScheduleCron(context.Background(), "cron(0 */6 * * ? *)", []byte(`{"kind":"watch.renew"}`), "")
	if again != id {
		t.Errorf("cron name not stable: %s vs %s", again, id)
	}
}

func TestSchedulerQueue_ScheduleCronTarget(t *testing.T) {
	f := &fakeScheduler{}
	q := NewSchedulerQueue(f, "calsync", "arn:aws:lambda:eu-west-1:123:function:worker", "arn:r")
	ctx := context.Background()

	if _, err := q.ScheduleCron(ctx, "cron(0 */6 * * ? *)", []byte(`{"kind":"watch.renew"}`), ""); err != nil {
		t.Fatalf("ScheduleCron failed: %v", err)
	}
	if len(f.created) != 1 || *f.created[0].Target.Arn != "arn:aws:lambda:eu-west-1:123:function:worker" {
		t.Fatalf("cron target = %+v", f.created)
	}

	if _, err := q.ScheduleCron(ctx, "cron(0 */6 * * ? *)", []byte(`{}`), "watch-renewal"); err == nil {
		t.Error("expected error for a destination that is not an ARN")
	}
	if len(f.created) != 1 {
		t.Errorf("schedule created for a bad destination")
	}
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	a, _ := q.Publish(ctx, []byte("a"), now.Add(-time.Minute))
	b, _ := q.Publish(ctx, []byte("b"), now.Add(time.Hour))
	c, _ := q.Publish(ctx, []byte("c"), now.Add(-time.Hour))
	if a == b {
		t.Fatal("job ids must be unique")
	}
	q.Cancel(ctx, c)
	q.Cancel(ctx, "unknown")

	due := q.Due(now)
	if len(due) != 1 || string(due[0].Payload) != "a" {
		t.Errorf("Due = %+v", due)
	}
	if live := q.Live(); len(live) != 1 || live[0].ID != b {
		t.Errorf("Live = %+v", live)
	}
}

func TestMemoryQueue_LiveInPublicationOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		id, _ := q.Publish(ctx, []byte("x"), time.Now().Add(time.Hour))
		ids = append(ids, id)
	}
	live := q.Live()
	if len(live) != len(ids) {
		t.Fatalf("expected %d jobs, got %d", len(ids), len(live))
	}
	for i, j := range live {
		if j.ID != ids[i] {
			t.Fatalf("live[%d] = %s, want %s", i, j.ID, ids[i])
		}
	}
}

func TestFromDSN(t *testing.T) {
	opts := SchedulerOptions{Client: &fakeScheduler{}, TargetARN: "arn:t", RoleARN: "arn:r"}

	q, err := FromDSN("memory://", opts)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("expected *MemoryQueue, got %T", q)
	}

	q, err = FromDSN("scheduler://reminders", opts)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	if sq, ok := q.(*SchedulerQueue); !ok || sq.group != "reminders" {
		t.Errorf("expected scheduler queue on group reminders, got %#v", q)
	}

	if _, err := FromDSN("scheduler://x", SchedulerOptions{}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := FromDSN("sqs://x", opts); err == nil {
		t.Error("expected error for unsupported scheme")
	}
	if _, err := FromDSN("", opts); err == nil {
		t.Error("expected error for empty dsn")
	}
}
