package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

const (
	resourceIndex = "resource_id-index"
	userIndex     = "user_id-index"
)

// projectionAttrs are the event attributes owned by ingestion. Reminder attributes
// are written separately and survive upserts.
var projectionAttrs = []string{"channel_id", "user_id", "summary", "status", "start", "end", "all_day", "attendees", "updated_at"}

// DynamoAPI is the subset of *dynamodb.Client methods used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements ChannelStore and EventStore on two DynamoDB tables.
//
// WatchChannels: partition key channel_id, GSIs resource_id-index and user_id-index.
// CalendarEvents: partition key event_id.
type DynamoStore struct {
	client        DynamoAPI
	channelsTable string
	eventsTable   string
}

// NewDynamoStore creates a DynamoStore.
func NewDynamoStore(client DynamoAPI, channelsTable, eventsTable string) *DynamoStore {
	return &DynamoStore{client: client, channelsTable: channelsTable, eventsTable: eventsTable}
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) GetChannel(ctx context.Context, channelID string) (*model.WatchChannel, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.channelsTable),
		Key:            stringKey("channel_id", channelID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	if out.Item == nil {
		return nil, model.ErrNotFound
	}

	var ch model.WatchChannel
	if err := attributevalue.UnmarshalMap(out.Item, &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return &ch, nil
}

func (s *DynamoStore) queryChannels(ctx context.Context, index, attr, value string) ([]model.WatchChannel, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.channelsTable),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(attr + " = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})

	var channels []model.WatchChannel
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", index, err)
		}
		var batch []model.WatchChannel
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
		channels = append(channels, batch...)
	}
	return channels, nil
}

func (s *DynamoStore) GetChannelByResource(ctx context.Context, resourceID string) (*model.WatchChannel, error) {
	channels, err := s.queryChannels(ctx, resourceIndex, "resource_id", resourceID)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, model.ErrNotFound
	}
	// A renewal can briefly leave two records on the same resource; prefer the newest.
	best := channels[0]
	for _, ch := range channels[1:] {
		if ch.ExpiresAt > best.ExpiresAt {
			best = ch
		}
	}
	return &best, nil
}

func (s *DynamoStore) ListChannelsByUser(ctx context.Context, userID string) ([]model.WatchChannel, error) {
	return s.queryChannels(ctx, userIndex, "user_id", userID)
}

func (s *DynamoStore) ListExpiringChannels(ctx context.Context, before time.Time) ([]model.WatchChannel, error) {
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:        aws.String(s.channelsTable),
		FilterExpression: aws.String("expires_at < :before"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":before": &types.AttributeValueMemberN{Value: strconv.FormatInt(before.Unix(), 10)},
		},
	})

	var channels []model.WatchChannel
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channels: %w", err)
		}
		var batch []model.WatchChannel
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
		channels = append(channels, batch...)
	}
	return channels, nil
}

func (s *DynamoStore) PutChannel(ctx context.Context, ch model.WatchChannel) error {
	item, err := attributevalue.MarshalMap(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.channelsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

func (s *DynamoStore) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.channelsTable),
		Key:       stringKey("channel_id", channelID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

func (s *DynamoStore) UpdateSyncToken(ctx context.Context, channelID, prev, next string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.channelsTable),
		Key:                       stringKey("channel_id", channelID),
		ExpressionAttributeValues: map[string]types.AttributeValue{},
	}

	if next == "" {
		input.UpdateExpression = aws.String("REMOVE sync_token")
	} else {
		input.UpdateExpression = aws.String("SET sync_token = :next")
		input.ExpressionAttributeValues[":next"] = &types.AttributeValueMemberS{Value: next}
	}
	if prev == "" {
		input.ConditionExpression = aws.String("attribute_exists(channel_id) AND attribute_not_exists(sync_token)")
	} else {
		input.ConditionExpression = aws.String("sync_token = :prev")
		input.ExpressionAttributeValues[":prev"] = &types.AttributeValueMemberS{Value: prev}
	}
	if len(input.ExpressionAttributeValues) == 0 {
		input.ExpressionAttributeValues = nil
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return ErrStaleToken
		}
		return fmt.Errorf("failed to update sync token for %s: %w", channelID, err)
	}
	return nil
}

func (s *DynamoStore) GetEvent(ctx context.Context, eventID string) (*model.CalendarEvent, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.eventsTable),
		Key:            stringKey("event_id", eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	if out.Item == nil {
		return nil, model.ErrNotFound
	}

	var ev model.CalendarEvent
	if err := attributevalue.UnmarshalMap(out.Item, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &ev, nil
}

// previous decodes ALL_OLD attributes; an empty map means the item was created.
func previous(attrs map[string]types.AttributeValue) (*model.CalendarEvent, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	var ev model.CalendarEvent
	if err := attributevalue.UnmarshalMap(attrs, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal previous event: %w", err)
	}
	return &ev, nil
}

func (s *DynamoStore) UpsertEvent(ctx context.Context, ev model.CalendarEvent) (*model.CalendarEvent, error) {
	ev.ReminderJobID = ""
	ev.RemindedFor = nil
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var set, remove string
	for i, attr := range projectionAttrs {
		ref := "#a" + strconv.Itoa(i)
		names[ref] = attr
		v, ok := item[attr]
		if !ok {
			if remove != "" {
				remove += ", "
			}
			remove += ref
			continue
		}
		values[":v"+strconv.Itoa(i)] = v
		if set != "" {
			set += ", "
		}
		set += ref + " = :v" + strconv.Itoa(i)
	}
	update := "SET " + set
	if remove != "" {
		update += " REMOVE " + remove
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.eventsTable),
		Key:                       stringKey("event_id", ev.EventID),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert event %s: %w", ev.EventID, err)
	}
	return previous(out.Attributes)
}

func (s *DynamoStore) MarkCancelled(ctx context.Context, eventID string, updatedAt time.Time) (*model.CalendarEvent, error) {
	ts, err := attributevalue.Marshal(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal timestamp: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.eventsTable),
		Key:                      stringKey("event_id", eventID),
		UpdateExpression:         aws.String("SET #status = :status, updated_at = :ts"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(model.StatusCancelled)},
			":ts":     ts,
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel event %s: %w", eventID, err)
	}
	return previous(out.Attributes)
}

func (s *DynamoStore) SetReminderJob(ctx context.Context, eventID, jobID string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.eventsTable),
		Key:                 stringKey("event_id", eventID),
		ConditionExpression: aws.String("attribute_exists(event_id)"),
	}
	if jobID == "" {
		input.UpdateExpression = aws.String("REMOVE reminder_job_id")
	} else {
		input.UpdateExpression = aws.String("SET reminder_job_id = :job")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":job": &types.AttributeValueMemberS{Value: jobID},
		}
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailed(err) {
			return model.ErrNotFound
		}
		return fmt.Errorf("failed to set reminder job for %s: %w", eventID, err)
	}
	return nil
}

func (s *DynamoStore) MarkReminderSent(ctx context.Context, eventID string, reminderTime time.Time) (bool, error) {
	rt, err := attributevalue.Marshal(reminderTime.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to marshal reminder time: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.eventsTable),
		Key:                 stringKey("event_id", eventID),
		UpdateExpression:    aws.String("SET reminded_for = :rt"),
		ConditionExpression: aws.String("attribute_exists(event_id) AND (attribute_not_exists(reminded_for) OR reminded_for <> :rt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rt": rt,
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark reminder sent for %s: %w", eventID, err)
	}
	return true, nil
}
