package calendar

import (
	"time"

	"github.com/drewlev/Turbo-ai-pm-sub000/internal/model"
	gcal "google.golang.org/api/calendar/v3"
)

const dateLayout = "2006-01-02"

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseEventTime decodes a provider time. All-day dates become midnight in the
// event (or calendar) time zone. Anything unparseable yields nil.
func parseEventTime(dt *gcal.EventDateTime, calendarLoc *time.Location) (*time.Time, bool) {
	if dt == nil {
		return nil, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return nil, false
		}
		return &t, false
	}
	if dt.Date != "" {
		loc := calendarLoc
		if dt.TimeZone != "" {
			loc = loadLocation(dt.TimeZone)
		}
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		if err != nil {
			return nil, false
		}
		return &t, true
	}
	return nil, false
}

func toStatus(s string) model.EventStatus {
	switch s {
	case "cancelled":
		return model.StatusCancelled
	case "tentative":
		return model.StatusTentative
	default:
		return model.StatusConfirmed
	}
}

func toEvent(item *gcal.Event, calendarLoc *time.Location) model.CalendarEvent {
	ev := model.CalendarEvent{
		EventID: item.Id,
		Summary: item.Summary,
		Status:  toStatus(item.Status),
	}
	ev.Start, ev.AllDay = parseEventTime(item.Start, calendarLoc)
	ev.End, _ = parseEventTime(item.End, calendarLoc)
	if updated, err := time.Parse(time.RFC3339, item.Updated); err == nil {
		ev.UpdatedAt = updated
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		ev.Attendees = append(ev.Attendees, model.Attendee{
			Email:          a.Email,
			ResponseStatus: a.ResponseStatus,
			Organizer:      a.Organizer,
			Self:           a.Self,
		})
	}
	return ev
}
