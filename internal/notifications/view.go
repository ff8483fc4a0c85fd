package notifications

import (
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
)

// EntryView is an entry with its presentation resolved at render time.
type EntryView struct {
	models.NotificationEntry
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Age   string `json:"age"`
}

type ListView struct {
	Notifications []EntryView `json:"notifications"`
	UnreadCount   int         `json:"unread_count"`
}

func NewListView(entries []models.NotificationEntry, now time.Time) ListView {
	view := ListView{Notifications: make([]EntryView, 0, len(entries))}
	for _, entry := range entries {
		style := entry.Type.Style()
		view.Notifications = append(view.Notifications, EntryView{
			NotificationEntry: entry,
			Icon:              style.Icon,
			Color:             style.Color,
			Age:               FormatAge(entry.CreatedAt, now),
		})
		if !entry.Read {
			view.UnreadCount++
		}
	}
	return view
}

// View renders the current entries.
func (s *Service) View() ListView {
	return NewListView(s.Entries(), s.clock.Now())
}

func (s *Service) Now() time.Time {
	return s.clock.Now()
}
