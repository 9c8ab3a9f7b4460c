package directory

import (
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/lib/pq"
)

type userRow struct {
	ID               string         `gorm:"primaryKey"`
	Email            string         `gorm:"uniqueIndex;not null"`
	Name             string         `gorm:"not null;default:''"`
	SlackUserID      *string        `gorm:"column:slack_user_id"`
	TrackingKeywords pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CreatedAt        time.Time      `gorm:"not null;default:now()"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) toModel() model.User {
	u := model.User{
		ID:               r.ID,
		Email:            r.Email,
		Name:             r.Name,
		TrackingKeywords: []string(r.TrackingKeywords),
	}
	if r.SlackUserID != nil {
		u.SlackUserID = *r.SlackUserID
	}
	return u
}

type clientRow struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"` // stored normalized
	Name      string `gorm:"not null;default:''"`
	ProjectID string `gorm:"index;not null"`
}

func (clientRow) TableName() string { return "clients" }

type projectRow struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (projectRow) TableName() string { return "projects" }

type projectUserRow struct {
	ProjectID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
}

func (projectUserRow) TableName() string { return "project_users" }

type meetingRow struct {
	ID           string         `gorm:"primaryKey"`
	ExternalID   *string        `gorm:"uniqueIndex"`
	Title        string         `gorm:"not null;default:''"`
	ProjectID    *string        `gorm:"index"`
	Date         time.Time      `gorm:"not null"`
	DurationMin  float64        `gorm:"not null;default:0"`
	Participants pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CreatedAt    time.Time      `gorm:"not null;default:now()"`
}

func (meetingRow) TableName() string { return "meetings" }

type sentenceRow struct {
	ID        uint64  `gorm:"primaryKey"`
	MeetingID string  `gorm:"index;not null"`
	Idx       int     `gorm:"column:idx;not null"`
	Speaker   string  `gorm:"not null;default:''"`
	StartSec  float64 `gorm:"not null"`
	EndSec    float64 `gorm:"not null"`
	Text      string  `gorm:"type:text;not null"`
}

func (sentenceRow) TableName() string { return "meeting_sentences" }

type taskRow struct {
	ID        string    `gorm:"primaryKey"`
	MeetingID *string   `gorm:"index"`
	ProjectID *string   `gorm:"index"`
	Title     string    `gorm:"not null"`
	Body      string    `gorm:"type:text;not null;default:''"`
	Status    string    `gorm:"not null;default:'todo'"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (taskRow) TableName() string { return "tasks" }

type taskAssigneeRow struct {
	TaskID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey"`
}

func (taskAssigneeRow) TableName() string { return "task_assignees" }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
