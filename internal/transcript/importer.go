package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/directory"
	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
)

// ProjectResolver maps participant emails to a project.
type ProjectResolver interface {
	ResolveEmails(ctx context.Context, emails []string) (string, bool, error)
}

// Importer stores fetched transcripts as meetings. Imports are idempotent by
// external id so webhook redelivery does not duplicate meetings.
type Importer struct {
	source   Source
	dir      directory.Directory
	resolver ProjectResolver
	logger   *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(source Source, dir directory.Directory, resolver ProjectResolver, logger *slog.Logger) *Importer {
	return &Importer{source: source, dir: dir, resolver: resolver, logger: logger}
}

// Import returns the stored meeting and whether this call created it.
func (i *Importer) Import(ctx context.Context, externalID string) (*model.Meeting, bool, error) {
	existing, err := i.dir.GetMeetingByExternalID(ctx, externalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	m, err := i.source.Fetch(ctx, externalID)
	if err != nil {
		return nil, false, err
	}

	projectID, ok, err := i.resolver.ResolveEmails(ctx, m.Participants)
	if err != nil {
		return nil, false, fmt.Errorf("resolve project: %w", err)
	}
	if ok {
		m.ProjectID = projectID
	} else {
		i.logger.InfoContext(ctx, "transcript matched no project", "external_id", externalID)
	}

	if err := i.dir.CreateMeeting(ctx, m); err != nil {
		// A concurrent delivery may have won the insert.
		if again, getErr := i.dir.GetMeetingByExternalID(ctx, externalID); getErr == nil {
			return again, false, nil
		}
		return nil, false, fmt.Errorf("store meeting: %w", err)
	}

	i.logger.InfoContext(ctx, "imported transcript",
		"external_id", externalID, "meeting_id", m.ID, "sentences", len(m.Sentences))
	return m, true, nil
}
