// Package directory reads and writes the CRUD-owned entities the sync core touches:
// users, client contacts, projects, meetings and tasks.
package directory

import (
	"context"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// Directory is the relational collaborator. Lookups return model.ErrNotFound when
// nothing matches.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindContactByEmail(ctx context.Context, email string) (*model.ClientContact, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)
	StaffedUsers(ctx context.Context, projectID string) ([]model.User, error)

	// GetMeeting returns the meeting with its sentences in index order.
	GetMeeting(ctx context.Context, meetingID string) (*model.Meeting, error)
	GetMeetingByExternalID(ctx context.Context, externalID string) (*model.Meeting, error)
	// CreateMeeting stores the meeting and its sentences, filling in m.ID.
	CreateMeeting(ctx context.Context, m *model.Meeting) error

	// CreateTaskWithAssignees stores t and assigns each user. A failed assignment is
	// skipped; the ids actually assigned are returned.
	CreateTaskWithAssignees(ctx context.Context, t *model.Task, userIDs []string) ([]string, error)
	// GetTaskByMeeting returns the earliest task created from the meeting.
	GetTaskByMeeting(ctx context.Context, meetingID string) (*model.Task, error)
}
