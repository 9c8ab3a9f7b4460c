package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// fakeDynamo records UpdateItem inputs and answers from canned outputs.
type fakeDynamo struct {
	updates   []*dynamodb.UpdateItemInput
	updateOut *dynamodb.UpdateItemOutput
	updateErr error
	getItem   map[string]types.AttributeValue
	queryOut  []map[string]types.AttributeValue
	scanInput *dynamodb.ScanInput
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateOut != nil {
		return f.updateOut, nil
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{Items: f.queryOut}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanInput = in
	return &dynamodb.ScanOutput{}, nil
}

func TestDynamoStore_UpdateSyncToken(t *testing.T) {
	tests := []struct {
		name       string
		prev, next string
		wantUpdate string
		wantCond   string
	}{
		{"first token", "", "t1", "SET sync_token = :next", "attribute_exists(channel_id) AND attribute_not_exists(sync_token)"},
		{"advance", "t1", "t2", "SET sync_token = :next", "sync_token = :prev"},
		{"clear", "t1", "", "REMOVE sync_token", "sync_token = :prev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDynamo{}
			s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")
			if err := s.UpdateSyncToken(context.Background(), "c1", tt.prev, tt.next); err != nil {
				t.Fatalf("UpdateSyncToken failed: %v", err)
			}
			in := f.updates[0]
			if *in.UpdateExpression != tt.wantUpdate {
				t.Errorf("UpdateExpression = %q, want %q", *in.UpdateExpression, tt.wantUpdate)
			}
			if *in.ConditionExpression != tt.wantCond {
				t.Errorf("ConditionExpression = %q, want %q", *in.ConditionExpression, tt.wantCond)
			}
		})
	}
}

func TestDynamoStore_UpdateSyncToken_Stale(t *testing.T) {
	f := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")
	err := s.UpdateSyncToken(context.Background(), "c1", "t1", "t2")
	if !errors.Is(err, ErrStaleToken) {
		t.Errorf("expected ErrStaleToken, got %v", err)
	}
}

func TestDynamoStore_UpsertEvent(t *testing.T) {
	f := &fakeDynamo{}
	s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	prev, err := s.UpsertEvent(context.Background(), model.CalendarEvent{
		EventID:       "e1",
		Status:        model.StatusConfirmed,
		Summary:       "Kick off",
		Start:         &start,
		ReminderJobID: "should-not-be-written",
	})
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if prev != nil {
		t.Errorf("expected nil prev for empty ALL_OLD")
	}

	in := f.updates[0]
	expr := *in.UpdateExpression
	if !strings.HasPrefix(expr, "SET ") || !strings.Contains(expr, " REMOVE ") {
		t.Errorf("UpdateExpression = %q, want SET and REMOVE clauses", expr)
	}
	for _, name := range in.ExpressionAttributeNames {
		if name == "reminder_job_id" || name == "reminded_for" {
			t.Errorf("upsert must not touch %s", name)
		}
	}
	if in.ReturnValues != types.ReturnValueAllOld {
		t.Errorf("ReturnValues = %v, want ALL_OLD", in.ReturnValues)
	}
}

func TestDynamoStore_UpsertEvent_ReturnsPrevious(t *testing.T) {
	old, _ := attributevalue.MarshalMap(model.CalendarEvent{EventID: "e1", Status: model.StatusConfirmed, ReminderJobID: "job-1"})
	f := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: old}}
	s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")

	prev, err := s.UpsertEvent(context.Background(), model.CalendarEvent{EventID: "e1", Status: model.StatusConfirmed})
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if prev == nil || prev.ReminderJobID != "job-1" {
		t.Errorf("prev = %+v, want job-1", prev)
	}
}

func TestDynamoStore_MarkReminderSent_Duplicate(t *testing.T) {
	f := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")
	first, err := s.MarkReminderSent(context.Background(), "e1", time.Now())
	if err != nil || first {
		t.Errorf("MarkReminderSent = %v, %v; want false, nil", first, err)
	}
}

func TestDynamoStore_GetChannel_NotFound(t *testing.T) {
	s := NewDynamoStore(&fakeDynamo{}, "WatchChannels", "CalendarEvents")
	if _, err := s.GetChannel(context.Background(), "c1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoStore_GetChannelByResource_PrefersNewest(t *testing.T) {
	a, _ := attributevalue.MarshalMap(model.WatchChannel{ChannelID: "old", ResourceID: "r1", ExpiresAt: 100})
	b, _ := attributevalue.MarshalMap(model.WatchChannel{ChannelID: "new", ResourceID: "r1", ExpiresAt: 200})
	s := NewDynamoStore(&fakeDynamo{queryOut: []map[string]types.AttributeValue{a, b}}, "WatchChannels", "CalendarEvents")

	ch, err := s.GetChannelByResource(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetChannelByResource failed: %v", err)
	}
	if ch.ChannelID != "new" {
		t.Errorf("ChannelID = %q, want new", ch.ChannelID)
	}
}

func TestDynamoStore_ListExpiringChannels_Filter(t *testing.T) {
	f := &fakeDynamo{}
	s := NewDynamoStore(f, "WatchChannels", "CalendarEvents")
	before := time.Unix(1_800_000_000, 0)
	if _, err := s.ListExpiringChannels(context.Background(), before); err != nil {
		t.Fatalf("ListExpiringChannels failed: %v", err)
	}
	v := f.scanInput.ExpressionAttributeValues[":before"].(*types.AttributeValueMemberN)
	if v.Value != "1800000000" {
		t.Errorf(":before = %q", v.Value)
	}
}
