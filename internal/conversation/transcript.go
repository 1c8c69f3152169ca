package conversation

import (
	"time"

	"github.com/moveinn/minn/internal/model"
)

// DayGroup is one run of consecutive messages sharing a calendar day.
type DayGroup struct {
	Label    string
	Messages []model.Message
}

// GroupByDay splits a transcript into date-separated groups for rendering.
// Grouping is by calendar day of SentAt; labels are relative to now, the wall
// clock at render time, so the same transcript re-renders with fresh labels
// after midnight.
func GroupByDay(msgs []model.Message, now time.Time) []DayGroup {
	var groups []DayGroup
	for _, m := range msgs {
		label := DayLabel(m.SentAt, now)
		if len(groups) == 0 || groups[len(groups)-1].Label != label {
			groups = append(groups, DayGroup{Label: label})
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, m)
	}
	return groups
}

// DayLabel renders the separator text for a message timestamp.
func DayLabel(ts, now time.Time) string {
	switch {
	case sameDay(ts, now):
		return "Today"
	case sameDay(ts, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return ts.Format("02 Jan 2006")
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
