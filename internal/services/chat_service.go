package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	unknownTrainerName = "Unknown"
	unknownMemberName  = "User"
)

// MaxMessageLength caps message content, in characters after trimming.
const MaxMessageLength = 4000

type conversationStore interface {
	Create(ctx context.Context, userID int64, target models.ConversationTarget) (*models.Conversation, error)
	GetByIDForParticipant(ctx context.Context, conversationID int64, viewerID int64, includeAdmin bool) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, viewerID int64, includeAdmin bool) ([]models.Conversation, error)
	DeleteIfEmpty(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

type messageStore interface {
	Create(ctx context.Context, conversationID int64, senderID int64, content string) (*models.Message, error)
	GetByID(ctx context.Context, messageID int64) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
	ListByConversations(ctx context.Context, conversationIDs []int64) ([]models.Message, error)
	MarkRead(ctx context.Context, messageID int64, readerID int64) (*models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64) (int64, error)
}

type trainerDirectory interface {
	GetByID(ctx context.Context, trainerID int64) (*models.Trainer, error)
	FullName(ctx context.Context, trainerID int64) (string, error)
}

type profileDirectory interface {
	FullName(ctx context.Context, userID int64) (string, error)
}

type userReader interface {
	GetByID(ctx context.Context, userID int64) (*models.User, error)
}

// ChatService owns conversations, messages and their read state. Reads are
// served from per-viewer and per-conversation caches that the change feed
// keeps current once Watch is running.
type ChatService struct {
	conversations conversationStore
	messages      messageStore
	trainers      trainerDirectory
	profiles      profileDirectory
	users         userReader

	listCache    *xsync.MapOf[int64, []models.ConversationSummary]
	messageCache *xsync.MapOf[int64, []models.Message]
	roles        *xsync.MapOf[int64, string]

	// Generations are bumped before the matching cache is touched. A reader
	// that sees a different generation after storing its snapshot drops it,
	// since the snapshot may predate a change whose event found no entry.
	listGeneration    atomic.Uint64
	messageGeneration *xsync.MapOf[int64, uint64]
}

func NewChatService(
	conversations conversationStore,
	messages messageStore,
	trainers trainerDirectory,
	profiles profileDirectory,
	users userReader,
) *ChatService {
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		trainers:      trainers,
		profiles:      profiles,
		users:         users,
		listCache:     xsync.NewMapOf[int64, []models.ConversationSummary](),
		messageCache:  xsync.NewMapOf[int64, []models.Message](),
		roles:         xsync.NewMapOf[int64, string](),

		messageGeneration: xsync.NewMapOf[int64, uint64](),
	}
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	viewerID int64,
	role string,
) ([]models.ConversationSummary, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	s.roles.Store(viewerID, role)

	if cached, ok := s.listCache.Load(viewerID); ok {
		return cloneSummaries(cached), nil
	}

	generation := s.listGeneration.Load()
	conversations, err := s.conversations.ListForParticipant(ctx, viewerID, role == models.RoleAdmin)
	if err != nil {
		return nil, collaboratorError("list conversations", err)
	}

	ids := make([]int64, 0, len(conversations))
	for _, conversation := range conversations {
		ids = append(ids, conversation.ID)
	}
	messages, err := s.messages.ListByConversations(ctx, ids)
	if err != nil {
		return nil, collaboratorError("list conversation messages", err)
	}

	byConversation := make(map[int64][]models.Message, len(conversations))
	for _, message := range messages {
		byConversation[message.ConversationID] = append(byConversation[message.ConversationID], message)
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		last, unread := summarizeConversation(viewerID, byConversation[conversation.ID])
		summaries = append(summaries, models.ConversationSummary{
			Conversation:    conversation,
			ParticipantName: s.participantName(ctx, viewerID, conversation),
			LastMessage:     last,
			UnreadCount:     unread,
		})
	}

	s.listCache.Store(viewerID, summaries)
	if s.listGeneration.Load() != generation {
		s.listCache.Delete(viewerID)
	}
	return cloneSummaries(summaries), nil
}

func (s *ChatService) participantName(ctx context.Context, viewerID int64, conversation models.Conversation) string {
	if conversation.UserID == viewerID {
		if conversation.IsAdminConversation {
			return models.AdminSupportName
		}
		if conversation.TrainerID == nil {
			return unknownTrainerName
		}
		name, err := s.trainers.FullName(ctx, *conversation.TrainerID)
		if err != nil {
			log.Printf("chat: trainer name for conversation %d: %v", conversation.ID, err)
			return unknownTrainerName
		}
		if name == "" {
			return unknownTrainerName
		}
		return name
	}

	name, err := s.profiles.FullName(ctx, conversation.UserID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("chat: member name for conversation %d: %v", conversation.ID, err)
		}
		return unknownMemberName
	}
	if name == "" {
		return unknownMemberName
	}
	return name
}

// CreateConversation opens a conversation with the target and posts its first
// message. The two writes are separate; when the message write fails the
// conversation id is reported through *PartialFailureError.
func (s *ChatService) CreateConversation(
	ctx context.Context,
	viewerID int64,
	target models.ConversationTarget,
	firstMessage string,
) (int64, error) {
	content := strings.TrimSpace(firstMessage)
	if content == "" {
		return 0, validationError("first message must not be empty")
	}
	if err := checkMessageLength(content); err != nil {
		return 0, err
	}
	if !target.Admin && target.TrainerID == nil {
		return 0, validationError("a trainer or admin support target is required")
	}
	if target.Admin && target.TrainerID != nil {
		return 0, validationError("conversation target must be either admin support or a trainer")
	}
	if !target.Admin && *target.TrainerID <= 0 {
		return 0, validationError("trainer id must be positive")
	}

	if !target.Admin {
		if _, err := s.trainers.GetByID(ctx, *target.TrainerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, ErrTrainerNotFound
			}
			return 0, collaboratorError("look up trainer", err)
		}
	}

	conversation, err := s.conversations.Create(ctx, viewerID, target)
	if err != nil {
		return 0, collaboratorError("create conversation", err)
	}
	s.InvalidateViewer(viewerID)

	if _, err := s.messages.Create(ctx, conversation.ID, viewerID, content); err != nil {
		return conversation.ID, &PartialFailureError{
			ConversationID: conversation.ID,
			Err:            collaboratorError("send first message", err),
		}
	}
	s.InvalidateConversation(conversation.ID)

	return conversation.ID, nil
}

// DiscardConversation removes a conversation the viewer owns that never got a
// message, which is what a PartialFailureError leaves behind.
func (s *ChatService) DiscardConversation(ctx context.Context, viewerID int64, conversationID int64) error {
	if conversationID <= 0 {
		return validationError("conversation id must be positive")
	}
	deleted, err := s.conversations.DeleteIfEmpty(ctx, conversationID, viewerID)
	if err != nil {
		return collaboratorError("discard conversation", err)
	}
	if !deleted {
		return ErrCannotDiscard
	}
	s.bumpMessageGeneration(conversationID)
	s.messageCache.Delete(conversationID)
	s.InvalidateViewer(viewerID)
	return nil
}

func (s *ChatService) ListMessages(
	ctx context.Context,
	viewerID int64,
	conversationID int64,
) ([]models.Message, error) {
	if conversationID <= 0 {
		return nil, validationError("conversation id must be positive")
	}
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}

	if cached, ok := s.messageCache.Load(conversationID); ok {
		return cloneMessages(cached), nil
	}

	generation := s.messageGenerationOf(conversationID)
	messages, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, collaboratorError("list messages", err)
	}

	// A feed event may have warmed the entry while the query ran; merge
	// instead of overwriting so neither side is lost.
	merged, _ := s.messageCache.Compute(conversationID, func(current []models.Message, loaded bool) ([]models.Message, bool) {
		if !loaded {
			return messages, false
		}
		for _, message := range messages {
			current, _ = mergeMessage(current, message)
		}
		return current, false
	})
	if s.messageGenerationOf(conversationID) != generation {
		s.messageCache.Delete(conversationID)
	}
	return cloneMessages(merged), nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	content string,
) (*models.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, validationError("message content must not be empty")
	}
	if err := checkMessageLength(trimmed); err != nil {
		return nil, err
	}
	if conversationID <= 0 {
		return nil, validationError("conversation id must be positive")
	}
	if err := s.requireParticipant(ctx, senderID, conversationID); err != nil {
		return nil, err
	}

	message, err := s.messages.Create(ctx, conversationID, senderID, trimmed)
	if err != nil {
		return nil, collaboratorError("send message", err)
	}

	s.mergeIfWarm(*message)
	s.invalidateListsContaining(conversationID)
	return message, nil
}

// MarkRead flags one message as read by viewerID. Marking a message the
// viewer sent, or one already read, leaves it unchanged.
func (s *ChatService) MarkRead(ctx context.Context, viewerID int64, messageID int64) (*models.Message, error) {
	if messageID <= 0 {
		return nil, validationError("message id must be positive")
	}

	existing, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, collaboratorError("load message", err)
	}
	if err := s.requireParticipant(ctx, viewerID, existing.ConversationID); err != nil {
		return nil, err
	}
	if !existing.UnreadFor(viewerID) {
		return existing, nil
	}

	message, err := s.messages.MarkRead(ctx, messageID, viewerID)
	if err != nil {
		return nil, collaboratorError("mark message read", err)
	}

	s.mergeIfWarm(*message)
	s.invalidateListsContaining(message.ConversationID)
	return message, nil
}

// MarkConversationRead flags every message viewerID received in the
// conversation as read and returns how many changed.
func (s *ChatService) MarkConversationRead(ctx context.Context, viewerID int64, conversationID int64) (int64, error) {
	if conversationID <= 0 {
		return 0, validationError("conversation id must be positive")
	}
	if err := s.requireParticipant(ctx, viewerID, conversationID); err != nil {
		return 0, err
	}

	updated, err := s.messages.MarkConversationRead(ctx, conversationID, viewerID)
	if err != nil {
		return 0, collaboratorError("mark conversation read", err)
	}
	if updated == 0 {
		return 0, nil
	}

	s.bumpMessageGeneration(conversationID)
	s.messageCache.Compute(conversationID, func(current []models.Message, loaded bool) ([]models.Message, bool) {
		if !loaded {
			return nil, true
		}
		next := make([]models.Message, len(current))
		copy(next, current)
		for i := range next {
			if next[i].SenderID != viewerID {
				next[i].IsRead = true
			}
		}
		return next, false
	})
	s.invalidateListsContaining(conversationID)
	return updated, nil
}

// IsParticipant reports whether viewerID can see the conversation.
func (s *ChatService) IsParticipant(ctx context.Context, viewerID int64, conversationID int64) (bool, error) {
	err := s.requireParticipant(ctx, viewerID, conversationID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConversationNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *ChatService) requireParticipant(ctx context.Context, viewerID int64, conversationID int64) error {
	role, err := s.role(ctx, viewerID)
	if err != nil {
		return err
	}
	_, err = s.conversations.GetByIDForParticipant(ctx, conversationID, viewerID, role == models.RoleAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return collaboratorError("load conversation", err)
	}
	return nil
}

func (s *ChatService) role(ctx context.Context, userID int64) (string, error) {
	if role, ok := s.roles.Load(userID); ok {
		return role, nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrForbidden
		}
		return "", collaboratorError("load user", err)
	}
	s.roles.Store(userID, user.Role)
	return user.Role, nil
}

// InvalidateViewer drops the cached conversation list of one viewer.
func (s *ChatService) InvalidateViewer(viewerID int64) {
	s.listGeneration.Add(1)
	s.listCache.Delete(viewerID)
}

// InvalidateConversation drops the cached history of one conversation and
// every cached list that shows it.
func (s *ChatService) InvalidateConversation(conversationID int64) {
	s.bumpMessageGeneration(conversationID)
	s.messageCache.Delete(conversationID)
	s.invalidateListsContaining(conversationID)
}

func (s *ChatService) invalidateListsContaining(conversationID int64) {
	s.listGeneration.Add(1)
	s.listCache.Range(func(viewerID int64, summaries []models.ConversationSummary) bool {
		for _, summary := range summaries {
			if summary.ID == conversationID {
				s.listCache.Delete(viewerID)
				break
			}
		}
		return true
	})
}

// mergeIfWarm folds message into the cached history of its conversation. A
// cold cache stays cold; the next read loads it in full.
func (s *ChatService) mergeIfWarm(message models.Message) {
	s.bumpMessageGeneration(message.ConversationID)
	s.messageCache.Compute(message.ConversationID, func(current []models.Message, loaded bool) ([]models.Message, bool) {
		if !loaded {
			return nil, true
		}
		merged, _ := mergeMessage(current, message)
		return merged, false
	})
}

func checkMessageLength(content string) error {
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return validationError(fmt.Sprintf("message content must be at most %d characters", MaxMessageLength))
	}
	return nil
}

func (s *ChatService) messageGenerationOf(conversationID int64) uint64 {
	generation, _ := s.messageGeneration.Load(conversationID)
	return generation
}

func (s *ChatService) bumpMessageGeneration(conversationID int64) {
	s.messageGeneration.Compute(conversationID, func(current uint64, _ bool) (uint64, bool) {
		return current + 1, false
	})
}

// Watch keeps the caches in step with the change feed until the returned
// stop function is called.
func (s *ChatService) Watch(feed *changefeed.Feed) (stop func()) {
	messageSub := feed.Subscribe(changefeed.Filter{Table: changefeed.TableMessages}, s.onMessageChange)
	conversationSub := feed.Subscribe(changefeed.Filter{Table: changefeed.TableConversations}, s.onConversationChange)
	return func() {
		messageSub.Close()
		conversationSub.Close()
	}
}

func (s *ChatService) onMessageChange(change changefeed.Change) {
	var message models.Message
	if err := change.Decode(&message); err != nil {
		log.Printf("chat: %v", err)
		return
	}
	s.mergeIfWarm(message)
	s.invalidateListsContaining(message.ConversationID)
}

func (s *ChatService) onConversationChange(change changefeed.Change) {
	var conversation models.Conversation
	if err := change.Decode(&conversation); err != nil {
		log.Printf("chat: %v", err)
		return
	}

	switch change.Kind {
	case changefeed.KindInsert:
		// The new row can belong to any viewer's list, including admins who
		// see every support conversation.
		s.listGeneration.Add(1)
		s.listCache.Clear()
	case changefeed.KindDelete:
		s.InvalidateConversation(conversation.ID)
		s.InvalidateViewer(conversation.UserID)
	default:
		s.invalidateListsContaining(conversation.ID)
	}
}

func cloneSummaries(summaries []models.ConversationSummary) []models.ConversationSummary {
	out := make([]models.ConversationSummary, len(summaries))
	copy(out, summaries)
	return out
}

func cloneMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
