package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens the Postgres database.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates the tables and indexes the directory needs.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&userRow{},
		&clientRow{},
		&projectRow{},
		&projectUserRow{},
		&meetingRow{},
		&sentenceRow{},
		&taskRow{},
		&taskAssigneeRow{},
	); err != nil {
		return err
	}

	stmts := []string{
		`create unique index if not exists uq_sentences_meeting_idx on meeting_sentences(meeting_id, idx);`,
		`create index if not exists idx_project_users_user on project_users(user_id);`,
		`create index if not exists idx_clients_email_lower on clients(lower(email));`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

// GormDirectory implements Directory on Postgres through gorm.
type GormDirectory struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormDirectory creates a GormDirectory.
func NewGormDirectory(db *gorm.DB, logger *slog.Logger) *GormDirectory {
	return &GormDirectory{db: db, logger: logger}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (d *GormDirectory) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var row userRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		return nil, notFound(err, "user "+userID)
	}
	u := row.toModel()
	return &u, nil
}

func (d *GormDirectory) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var row userRow
	err := d.db.WithContext(ctx).First(&row, "lower(email) = ?", model.NormalizeEmail(email)).Error
	if err != nil {
		return nil, notFound(err, "user by email")
	}
	u := row.toModel()
	return &u, nil
}

// contactByEmail matches contacts regardless of the case they were stored in.
func contactByEmail(tx *gorm.DB, email string) *gorm.DB {
	return tx.Where("lower(email) = ?", model.NormalizeEmail(email))
}

func (d *GormDirectory) FindContactByEmail(ctx context.Context, email string) (*model.ClientContact, error) {
	var row clientRow
	err := contactByEmail(d.db.WithContext(ctx), email).First(&row).Error
	if err != nil {
		return nil, notFound(err, "client contact")
	}
	return &model.ClientContact{Email: row.Email, Name: row.Name, ProjectID: row.ProjectID}, nil
}

func (d *GormDirectory) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var row projectRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", projectID).Error; err != nil {
		return nil, notFound(err, "project "+projectID)
	}

	var userIDs []string
	err := d.db.WithContext(ctx).Model(&projectUserRow{}).
		Where("project_id = ?", projectID).
		Order("user_id").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("project users: %w", err)
	}
	return &model.Project{ID: row.ID, Name: row.Name, UserIDs: userIDs}, nil
}

func (d *GormDirectory) StaffedUsers(ctx context.Context, projectID string) ([]model.User, error) {
	var rows []userRow
	err := d.db.WithContext(ctx).
		Joins("join project_users pu on pu.user_id = users.id").
		Where("pu.project_id = ?", projectID).
		Order("users.id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("staffed users: %w", err)
	}
	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toModel())
	}
	return users, nil
}

func (d *GormDirectory) loadMeeting(ctx context.Context, row meetingRow) (*model.Meeting, error) {
	var sentences []sentenceRow
	err := d.db.WithContext(ctx).
		Where("meeting_id = ?", row.ID).
		Order("idx asc").
		Find(&sentences).Error
	if err != nil {
		return nil, fmt.Errorf("meeting sentences: %w", err)
	}

	m := &model.Meeting{
		ID:           row.ID,
		ExternalID:   deref(row.ExternalID),
		Title:        row.Title,
		ProjectID:    deref(row.ProjectID),
		Date:         row.Date,
		DurationMin:  row.DurationMin,
		Participants: []string(row.Participants),
	}
	for _, s := range sentences {
		m.Sentences = append(m.Sentences, model.Sentence{
			Index:    s.Idx,
			Speaker:  s.Speaker,
			StartSec: s.StartSec,
			EndSec:   s.EndSec,
			Text:     s.Text,
		})
	}
	return m, nil
}

func (d *GormDirectory) GetMeeting(ctx context.Context, meetingID string) (*model.Meeting, error) {
	var row meetingRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", meetingID).Error; err != nil {
		return nil, notFound(err, "meeting "+meetingID)
	}
	return d.loadMeeting(ctx, row)
}

func (d *GormDirectory) GetMeetingByExternalID(ctx context.Context, externalID string) (*model.Meeting, error) {
	var row meetingRow
	if err := d.db.WithContext(ctx).First(&row, "external_id = ?", externalID).Error; err != nil {
		return nil, notFound(err, "meeting by external id")
	}
	return d.loadMeeting(ctx, row)
}

func (d *GormDirectory) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	row := meetingRow{
		ID:           m.ID,
		ExternalID:   optional(m.ExternalID),
		Title:        m.Title,
		ProjectID:    optional(m.ProjectID),
		Date:         m.Date,
		DurationMin:  m.DurationMin,
		Participants: pq.StringArray(m.Participants),
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create meeting: %w", err)
		}
		if len(m.Sentences) == 0 {
			return nil
		}
		sentences := make([]sentenceRow, 0, len(m.Sentences))
		for _, s := range m.Sentences {
			sentences = append(sentences, sentenceRow{
				MeetingID: m.ID,
				Idx:       s.Index,
				Speaker:   s.Speaker,
				StartSec:  s.StartSec,
				EndSec:    s.EndSec,
				Text:      s.Text,
			})
		}
		if err := tx.CreateInBatches(sentences, 500).Error; err != nil {
			return fmt.Errorf("create sentences: %w", err)
		}
		return nil
	})
}

func (d *GormDirectory) CreateTaskWithAssignees(ctx context.Context, t *model.Task, userIDs []string) ([]string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var assigned []string
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := taskRow{
			ID:        t.ID,
			MeetingID: optional(t.MeetingID),
			ProjectID: optional(t.ProjectID),
			Title:     t.Title,
			Body:      t.Body,
			Status:    string(t.Status),
			CreatedAt: t.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}

		var err error
		assigned, err = assignEach(ctx, gormAssigner{tx: tx}, d.logger, t.ID, userIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.Assignees = assigned
	return assigned, nil
}

func (d *GormDirectory) GetTaskByMeeting(ctx context.Context, meetingID string) (*model.Task, error) {
	var row taskRow
	err := d.db.WithContext(ctx).Order("created_at").First(&row, "meeting_id = ?", meetingID).Error
	if err != nil {
		return nil, notFound(err, "task for meeting")
	}
	var assignees []string
	err = d.db.WithContext(ctx).Model(&taskAssigneeRow{}).
		Where("task_id = ?", row.ID).Order("user_id").Pluck("user_id", &assignees).Error
	if err != nil {
		return nil, fmt.Errorf("load task assignees: %w", err)
	}
	return &model.Task{
		ID:        row.ID,
		MeetingID: deref(row.MeetingID),
		ProjectID: deref(row.ProjectID),
		Title:     row.Title,
		Body:      row.Body,
		Status:    model.TaskStatus(row.Status),
		Assignees: assignees,
		CreatedAt: row.CreatedAt,
	}, nil
}

// assigner inserts assignee rows inside a transaction that supports savepoints.
type assigner interface {
	SavePoint(name string) error
	RollbackTo(name string) error
	Assign(taskID, userID string) error
}

type gormAssigner struct {
	tx *gorm.DB
}

func (a gormAssigner) SavePoint(name string) error  { return a.tx.SavePoint(name).Error }
func (a gormAssigner) RollbackTo(name string) error { return a.tx.RollbackTo(name).Error }

func (a gormAssigner) Assign(taskID, userID string) error {
	return a.tx.Create(&taskAssigneeRow{TaskID: taskID, UserID: userID}).Error
}

// assignEach inserts one assignee per user under its own savepoint, so a failed
// insert is rolled back alone and the rest of the transaction survives. Only
// savepoint failures abort.
func assignEach(ctx context.Context, a assigner, logger *slog.Logger, taskID string, userIDs []string) ([]string, error) {
	var assigned []string
	for i, userID := range userIDs {
		sp := "assign_" + strconv.Itoa(i)
		if err := a.SavePoint(sp); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
		if err := a.Assign(taskID, userID); err != nil {
			logger.WarnContext(ctx, "skipping task assignee", "task_id", taskID, "user_id", userID, "error", err)
			if err := a.RollbackTo(sp); err != nil {
				return nil, fmt.Errorf("rollback to savepoint: %w", err)
			}
			continue
		}
		assigned = append(assigned, userID)
	}
	return assigned, nil
}
