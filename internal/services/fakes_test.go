package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/jackc/pgx/v5"
)

// memoryDB is an in-memory stand-in for the conversations, messages,
// trainers, profiles and users tables.
type memoryDB struct {
	mu sync.Mutex

	now           time.Time
	nextConvID    int64
	nextMessageID int64
	conversations map[int64]models.Conversation
	messages      map[int64]models.Message
	trainers      map[int64]models.Trainer
	profiles      map[int64]string
	users         map[int64]models.User

	messageCreates int
	failMessages   error
	failProfiles   error

	// duringList runs once, outside the lock, after the next message query
	// has read its rows but before it returns them. Tests use it to land
	// writes while a load is in flight.
	duringList func()
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		now:           time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		conversations: map[int64]models.Conversation{},
		messages:      map[int64]models.Message{},
		trainers:      map[int64]models.Trainer{},
		profiles:      map[int64]string{},
		users:         map[int64]models.User{},
	}
}

func (db *memoryDB) addUser(id int64, role string, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[id] = models.User{ID: id, Role: role}
	if name != "" {
		db.profiles[id] = name
	}
}

func (db *memoryDB) addTrainer(id int64, userID int64, first, last string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	uid := userID
	db.trainers[id] = models.Trainer{ID: id, UserID: &uid, FirstName: first, LastName: last}
}

func (db *memoryDB) tick() time.Time {
	db.now = db.now.Add(time.Second)
	return db.now
}

func (db *memoryDB) service() *ChatService {
	return NewChatService(
		memoryConversations{db},
		memoryMessages{db},
		memoryTrainers{db},
		memoryProfiles{db},
		memoryUsers{db},
	)
}

func (db *memoryDB) participates(conversation models.Conversation, viewerID int64, includeAdmin bool) bool {
	if conversation.UserID == viewerID {
		return true
	}
	if conversation.IsAdminConversation {
		return includeAdmin
	}
	if conversation.TrainerID == nil {
		return false
	}
	trainer, ok := db.trainers[*conversation.TrainerID]
	return ok && trainer.UserID != nil && *trainer.UserID == viewerID
}

type memoryConversations struct{ db *memoryDB }

func (s memoryConversations) Create(_ context.Context, userID int64, target models.ConversationTarget) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.nextConvID++
	now := s.db.tick()
	conversation := models.Conversation{
		ID:                  s.db.nextConvID,
		UserID:              userID,
		IsAdminConversation: target.Admin,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if !target.Admin {
		id := *target.TrainerID
		conversation.TrainerID = &id
	}
	s.db.conversations[conversation.ID] = conversation
	return &conversation, nil
}

func (s memoryConversations) GetByIDForParticipant(_ context.Context, conversationID int64, viewerID int64, includeAdmin bool) (*models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	conversation, ok := s.db.conversations[conversationID]
	if !ok || !s.db.participates(conversation, viewerID, includeAdmin) {
		return nil, pgx.ErrNoRows
	}
	return &conversation, nil
}

func (s memoryConversations) ListForParticipant(_ context.Context, viewerID int64, includeAdmin bool) ([]models.Conversation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]models.Conversation, 0)
	for _, conversation := range s.db.conversations {
		if s.db.participates(conversation, viewerID, includeAdmin) {
			out = append(out, conversation)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].ActivityAt(), out[j].ActivityAt()
		if ai.Equal(aj) {
			return out[i].ID > out[j].ID
		}
		return ai.After(aj)
	})
	return out, nil
}

func (s memoryConversations) DeleteIfEmpty(_ context.Context, conversationID int64, userID int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	conversation, ok := s.db.conversations[conversationID]
	if !ok || conversation.UserID != userID {
		return false, nil
	}
	for _, message := range s.db.messages {
		if message.ConversationID == conversationID {
			return false, nil
		}
	}
	delete(s.db.conversations, conversationID)
	return true, nil
}

type memoryMessages struct{ db *memoryDB }

func (s memoryMessages) Create(_ context.Context, conversationID int64, senderID int64, content string) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.messageCreates++
	if s.db.failMessages != nil {
		return nil, s.db.failMessages
	}
	conversation, ok := s.db.conversations[conversationID]
	if !ok {
		return nil, errors.New("conversation does not exist")
	}
	s.db.nextMessageID++
	message := models.Message{
		ID:             s.db.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         s.db.tick(),
	}
	s.db.messages[message.ID] = message
	if conversation.LastMessageAt == nil || conversation.LastMessageAt.Before(message.SentAt) {
		sentAt := message.SentAt
		conversation.LastMessageAt = &sentAt
	}
	s.db.conversations[conversationID] = conversation
	return &message, nil
}

func (s memoryMessages) GetByID(_ context.Context, messageID int64) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	message, ok := s.db.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &message, nil
}

func (s memoryMessages) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return s.ListByConversations(ctx, []int64{conversationID})
}

func (s memoryMessages) ListByConversations(_ context.Context, conversationIDs []int64) ([]models.Message, error) {
	s.db.mu.Lock()
	wanted := map[int64]bool{}
	for _, id := range conversationIDs {
		wanted[id] = true
	}
	out := make([]models.Message, 0)
	for _, message := range s.db.messages {
		if wanted[message.ConversationID] {
			out = append(out, message)
		}
	}
	hook := s.db.duringList
	s.db.duringList = nil
	s.db.mu.Unlock()

	if hook != nil {
		hook()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s memoryMessages) MarkRead(_ context.Context, messageID int64, readerID int64) (*models.Message, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	message, ok := s.db.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if message.SenderID != readerID {
		message.IsRead = true
		s.db.messages[messageID] = message
	}
	return &message, nil
}

func (s memoryMessages) MarkConversationRead(_ context.Context, conversationID int64, readerID int64) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var updated int64
	for id, message := range s.db.messages {
		if message.ConversationID == conversationID && message.SenderID != readerID && !message.IsRead {
			message.IsRead = true
			s.db.messages[id] = message
			updated++
		}
	}
	return updated, nil
}

type memoryTrainers struct{ db *memoryDB }

func (s memoryTrainers) GetByID(_ context.Context, trainerID int64) (*models.Trainer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	trainer, ok := s.db.trainers[trainerID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &trainer, nil
}

func (s memoryTrainers) FullName(ctx context.Context, trainerID int64) (string, error) {
	trainer, err := s.GetByID(ctx, trainerID)
	if err != nil {
		return "", err
	}
	return trainer.FullName(), nil
}

type memoryProfiles struct{ db *memoryDB }

func (s memoryProfiles) FullName(_ context.Context, userID int64) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failProfiles != nil {
		return "", s.db.failProfiles
	}
	name, ok := s.db.profiles[userID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return name, nil
}

type memoryUsers struct{ db *memoryDB }

func (s memoryUsers) GetByID(_ context.Context, userID int64) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	user, ok := s.db.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}
