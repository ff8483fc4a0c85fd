package services

import (
	"sort"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
)

type mergeResult int

const (
	mergeUnchanged mergeResult = iota
	mergeInserted
	mergeUpdated
)

// mergeMessage returns a copy of list with msg placed in (sent_at, id) order,
// or folded into the entry with the same id. Folding never un-reads a
// message and never rewrites content.
func mergeMessage(list []models.Message, msg models.Message) ([]models.Message, mergeResult) {
	for i := range list {
		if list[i].ID != msg.ID {
			continue
		}
		if list[i].IsRead || !msg.IsRead {
			return list, mergeUnchanged
		}
		merged := make([]models.Message, len(list))
		copy(merged, list)
		merged[i].IsRead = true
		return merged, mergeUpdated
	}

	idx := sort.Search(len(list), func(i int) bool {
		return msg.Before(list[i])
	})
	merged := make([]models.Message, 0, len(list)+1)
	merged = append(merged, list[:idx]...)
	merged = append(merged, msg)
	merged = append(merged, list[idx:]...)
	return merged, mergeInserted
}

// summarizeConversation derives the last message and the unread count from
// the messages fetched for one conversation.
func summarizeConversation(viewerID int64, messages []models.Message) (*models.Message, int) {
	var last *models.Message
	unread := 0
	for i := range messages {
		if messages[i].UnreadFor(viewerID) {
			unread++
		}
		if last == nil || last.Before(messages[i]) {
			m := messages[i]
			last = &m
		}
	}
	return last, unread
}
