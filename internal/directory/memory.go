package directory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// MemoryDirectory implements Directory in memory. Used in DEV_MODE and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	seq      int
	users    map[string]model.User
	contacts map[string]model.ClientContact
	projects map[string]model.Project
	meetings map[string]model.Meeting
	tasks    []model.Task

	// FailAssign makes assignment of these user ids fail.
	FailAssign map[string]bool
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:      make(map[string]model.User),
		contacts:   make(map[string]model.ClientContact),
		projects:   make(map[string]model.Project),
		meetings:   make(map[string]model.Meeting),
		FailAssign: make(map[string]bool),
	}
}

func (d *MemoryDirectory) AddUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) AddContact(c model.ClientContact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.Email = model.NormalizeEmail(c.Email)
	d.contacts[c.Email] = c
}

func (d *MemoryDirectory) AddProject(p model.Project) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects[p.ID] = p
}

func (d *MemoryDirectory) AddMeeting(m model.Meeting) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meetings[m.ID] = m
}

// Tasks returns every created task.
func (d *MemoryDirectory) Tasks() []model.Task {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Task(nil), d.tasks...)
}

func (d *MemoryDirectory) GetUser(_ context.Context, userID string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return &u, nil
}

func (d *MemoryDirectory) FindUserByEmail(_ context.Context, email string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	want := model.NormalizeEmail(email)
	for _, u := range d.users {
		if model.NormalizeEmail(u.Email) == want {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user by email: %w", model.ErrNotFound)
}

func (d *MemoryDirectory) FindContactByEmail(_ context.Context, email string) (*model.ClientContact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[model.NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("client contact: %w", model.ErrNotFound)
	}
	return &c, nil
}

func (d *MemoryDirectory) GetProject(_ context.Context, projectID string) (*model.Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, model.ErrNotFound)
	}
	return &p, nil
}

func (d *MemoryDirectory) StaffedUsers(_ context.Context, projectID string) ([]model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[projectID]
	if !ok {
		return nil, nil
	}
	var users []model.User
	for _, id := range p.UserIDs {
		if u, ok := d.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func withSortedSentences(m model.Meeting) *model.Meeting {
	m.Sentences = append([]model.Sentence(nil), m.Sentences...)
	sort.SliceStable(m.Sentences, func(i, j int) bool { return m.Sentences[i].Index < m.Sentences[j].Index })
	return &m
}

func (d *MemoryDirectory) GetMeeting(_ context.Context, meetingID string) (*model.Meeting, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.meetings[meetingID]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, model.ErrNotFound)
	}
	return withSortedSentences(m), nil
}

func (d *MemoryDirectory) GetMeetingByExternalID(_ context.Context, externalID string) (*model.Meeting, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.meetings {
		if m.ExternalID != "" && m.ExternalID == externalID {
			return withSortedSentences(m), nil
		}
	}
	return nil, fmt.Errorf("meeting by external id: %w", model.ErrNotFound)
}

func (d *MemoryDirectory) CreateMeeting(_ context.Context, m *model.Meeting) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.ExternalID != "" {
		for _, existing := range d.meetings {
			if existing.ExternalID == m.ExternalID {
				return fmt.Errorf("meeting with external id %s already exists", m.ExternalID)
			}
		}
	}
	if m.ID == "" {
		d.seq++
		m.ID = "meeting-" + strconv.Itoa(d.seq)
	}
	d.meetings[m.ID] = *m
	return nil
}

func (d *MemoryDirectory) CreateTaskWithAssignees(_ context.Context, t *model.Task, userIDs []string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.ID == "" {
		d.seq++
		t.ID = "task-" + strconv.Itoa(d.seq)
	}
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var assigned []string
	for _, id := range userIDs {
		if d.FailAssign[id] {
			continue
		}
		assigned = append(assigned, id)
	}
	t.Assignees = assigned
	d.tasks = append(d.tasks, *t)
	return assigned, nil
}

func (d *MemoryDirectory) GetTaskByMeeting(_ context.Context, meetingID string) (*model.Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.tasks {
		if t.MeetingID == meetingID {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("task for meeting %s: %w", meetingID, model.ErrNotFound)
}
