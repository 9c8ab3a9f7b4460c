package model

import (
	"strings"
	"time"
)

// EventStatus mirrors the provider's event status values.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// DelegatedGrant is one OAuth grant a user has given us, stored in DynamoDB.
type DelegatedGrant struct {
	UserID                string    `json:"user_id" dynamodbav:"user_id"`
	GrantID               string    `json:"grant_id" dynamodbav:"grant_id"`
	Provider              string    `json:"provider" dynamodbav:"provider"`
	Scopes                []string  `json:"scopes" dynamodbav:"scopes"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// HasScope reports whether the grant declares the given scope.
func (g DelegatedGrant) HasScope(scope string) bool {
	for _, s := range g.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// WatchChannel is one active push-notification subscription on a user's calendar.
type WatchChannel struct {
	ChannelID   string    `json:"channel_id" dynamodbav:"channel_id"`
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	CalendarID  string    `json:"calendar_id" dynamodbav:"calendar_id"`
	ResourceID  string    `json:"resource_id" dynamodbav:"resource_id"`
	ResourceURI string    `json:"resource_uri" dynamodbav:"resource_uri"`
	SyncToken   string    `json:"sync_token,omitempty" dynamodbav:"sync_token,omitempty"`
	ExpiresAt   int64     `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	CreatedAt   time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Expiry returns the channel expiration as a time.
func (c WatchChannel) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Attendee is the subset of provider attendee fields we keep.
type Attendee struct {
	Email          string `json:"email" dynamodbav:"email"`
	ResponseStatus string `json:"response_status,omitempty" dynamodbav:"response_status,omitempty"`
	Organizer      bool   `json:"organizer,omitempty" dynamodbav:"organizer,omitempty"`
	Self           bool   `json:"self,omitempty" dynamodbav:"self,omitempty"`
}

// CalendarEvent is the local projection of a provider event.
// Start and End are nil when the provider sent no usable time.
type CalendarEvent struct {
	EventID       string      `json:"event_id" dynamodbav:"event_id"`
	ChannelID     string      `json:"channel_id,omitempty" dynamodbav:"channel_id,omitempty"`
	UserID        string      `json:"user_id,omitempty" dynamodbav:"user_id,omitempty"`
	Summary       string      `json:"summary,omitempty" dynamodbav:"summary,omitempty"`
	Status        EventStatus `json:"status" dynamodbav:"status"`
	Start         *time.Time  `json:"start,omitempty" dynamodbav:"start,omitempty"`
	End           *time.Time  `json:"end,omitempty" dynamodbav:"end,omitempty"`
	AllDay        bool        `json:"all_day,omitempty" dynamodbav:"all_day,omitempty"`
	Attendees     []Attendee  `json:"attendees,omitempty" dynamodbav:"attendees,omitempty"`
	ReminderJobID string      `json:"reminder_job_id,omitempty" dynamodbav:"reminder_job_id,omitempty"`
	RemindedFor   *time.Time  `json:"reminded_for,omitempty" dynamodbav:"reminded_for,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at" dynamodbav:"updated_at"`
}

// SameSchedule reports whether two projections would produce the same reminder.
func (e CalendarEvent) SameSchedule(other CalendarEvent) bool {
	if e.Summary != other.Summary {
		return false
	}
	switch {
	case e.Start == nil && other.Start == nil:
		return true
	case e.Start == nil || other.Start == nil:
		return false
	default:
		return e.Start.Equal(*other.Start)
	}
}

// AttendeeEmails returns the attendee emails in provider order.
func (e CalendarEvent) AttendeeEmails() []string {
	emails := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		if a.Email != "" {
			emails = append(emails, a.Email)
		}
	}
	return emails
}

// ReminderPayload is the body delivered back to us by the delay queue.
type ReminderPayload struct {
	EventID      string    `json:"eventId"`
	ReminderTime time.Time `json:"reminderTime"`
}

// ReminderJob is a scheduled, cancellable notification.
type ReminderJob struct {
	EventID string          `json:"event_id"`
	FireAt  time.Time       `json:"fire_at"`
	Payload ReminderPayload `json:"payload"`
	JobID   string          `json:"job_id"`
}

// TranscriptNotification is the body of a transcript-ready webhook.
type TranscriptNotification struct {
	MeetingID string `json:"meetingId"`
	EventType string `json:"eventType"`
}

// TranscriptCompleted is the eventType that triggers an import.
const TranscriptCompleted = "Transcription completed"

// Message kinds carried by the delay queue.
const (
	KindReminderFire    = "reminder.fire"
	KindRenewalSweep    = "watch.renew"
	KindTranscriptReady = "transcript.ready"
)

// QueueMessage is the envelope delivered to the worker by the delay queue.
type QueueMessage struct {
	Kind       string                  `json:"kind"`
	Reminder   *ReminderPayload        `json:"reminder,omitempty"`
	Transcript *TranscriptNotification `json:"transcript,omitempty"`
}

// User is a member of the workspace as seen by the sync core.
type User struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	Name             string   `json:"name"`
	SlackUserID      string   `json:"slack_user_id,omitempty"`
	TrackingKeywords []string `json:"tracking_keywords,omitempty"`
}

// ClientContact maps an external email to the project it belongs to.
type ClientContact struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"project_id"`
}

// NormalizeEmail lowercases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Project groups client contacts and the users staffed on them.
type Project struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	UserIDs []string `json:"user_ids"`
}

// Sentence is one transcript line.
type Sentence struct {
	Index    int     `json:"index"`
	Speaker  string  `json:"speaker"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Meeting is an imported transcript.
type Meeting struct {
	ID           string     `json:"id"`
	ExternalID   string     `json:"external_id,omitempty"`
	Title        string     `json:"title"`
	ProjectID    string     `json:"project_id,omitempty"`
	Date         time.Time  `json:"date"`
	DurationMin  float64    `json:"duration_min,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	Sentences    []Sentence `json:"sentences,omitempty"`
}

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo        TaskStatus = "todo"
	TaskInProgress  TaskStatus = "in_progress"
	TaskNeedsReview TaskStatus = "needs_review"
	TaskDone        TaskStatus = "done"
)

// Task is a work item created from a meeting.
type Task struct {
	ID        string     `json:"id"`
	MeetingID string     `json:"meeting_id,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Status    TaskStatus `json:"status"`
	Assignees []string   `json:"assignees,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ExtractedTask is one item returned by the extraction service.
type ExtractedTask struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
}
