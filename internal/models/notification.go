package models

import "time"

type NotificationType string

const (
	NotificationMessage  NotificationType = "message"
	NotificationBooking  NotificationType = "booking"
	NotificationLogin    NotificationType = "login"
	NotificationSettings NotificationType = "settings"
	NotificationJob      NotificationType = "job"
	NotificationSystem   NotificationType = "system"
	NotificationOther    NotificationType = "other"
)

type NotificationStyle struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func NotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationMessage,
		NotificationBooking,
		NotificationLogin,
		NotificationSettings,
		NotificationJob,
		NotificationSystem,
		NotificationOther,
	}
}

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessage, NotificationBooking, NotificationLogin, NotificationSettings,
		NotificationJob, NotificationSystem, NotificationOther:
		return true
	}
	return false
}

// Style returns the presentation for t. Unknown types are presented as other.
func (t NotificationType) Style() NotificationStyle {
	switch t {
	case NotificationMessage:
		return NotificationStyle{Icon: "message-square", Color: "blue"}
	case NotificationBooking:
		return NotificationStyle{Icon: "calendar-check", Color: "green"}
	case NotificationLogin:
		return NotificationStyle{Icon: "log-in", Color: "purple"}
	case NotificationSettings:
		return NotificationStyle{Icon: "settings", Color: "gray"}
	case NotificationJob:
		return NotificationStyle{Icon: "briefcase", Color: "orange"}
	case NotificationSystem:
		return NotificationStyle{Icon: "alert-circle", Color: "red"}
	default:
		return NotificationStyle{Icon: "bell", Color: "slate"}
	}
}

type NotificationEntry struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
