package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func TestChatServiceConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	memberID := createTestAccount(t, ctx, pool, models.RoleMember)
	trainerUserID := createTestAccount(t, ctx, pool, models.RoleTrainer)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, memberID, trainerUserID) })
	trainer := createTestTrainer(t, ctx, pool, trainerUserID)

	conversationID, err := service.CreateConversation(ctx, memberID, models.TrainerTarget(trainer.ID), "Can we move Tuesday?")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := service.SendMessage(ctx, conversationID, trainerUserID, "Sure, Wednesday works"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	memberList, err := service.ListConversations(ctx, memberID, models.RoleMember)
	if err != nil {
		t.Fatalf("ListConversations member: %v", err)
	}
	if len(memberList) != 1 || memberList[0].ID != conversationID {
		t.Fatalf("expected member to see conversation %d, got %+v", conversationID, memberList)
	}
	if memberList[0].ParticipantName != "Test Trainer" {
		t.Fatalf("expected trainer name, got %q", memberList[0].ParticipantName)
	}
	if memberList[0].UnreadCount != 1 {
		t.Fatalf("expected 1 unread for member, got %d", memberList[0].UnreadCount)
	}

	trainerList, err := service.ListConversations(ctx, trainerUserID, models.RoleTrainer)
	if err != nil {
		t.Fatalf("ListConversations trainer: %v", err)
	}
	if len(trainerList) != 1 || trainerList[0].UnreadCount != 1 {
		t.Fatalf("expected trainer to see 1 unread conversation, got %+v", trainerList)
	}

	updated, err := service.MarkConversationRead(ctx, memberID, conversationID)
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 message marked read, got %d", updated)
	}

	messages, err := service.ListMessages(ctx, memberID, conversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "Can we move Tuesday?" {
		t.Fatalf("unexpected history %+v", messages)
	}
	if !messages[1].IsRead {
		t.Fatalf("expected trainer reply to be read")
	}
}

func TestChatServiceHidesForeignConversations(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := newIntegrationChatService(pool)

	ownerID := createTestAccount(t, ctx, pool, models.RoleMember)
	strangerID := createTestAccount(t, ctx, pool, models.RoleMember)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, ownerID, strangerID) })

	conversationID, err := service.CreateConversation(ctx, ownerID, models.AdminTarget(), "Billing question")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	_, err = service.ListMessages(ctx, strangerID, conversationID)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestBookingServiceRejectsOverlappingBookings(t *testing.T) {
	ctx := context.Background()
	pool := integrationTestPool(t)
	service := NewBookingService(pool, repository.NewBookingRepository(pool), repository.NewTrainerRepository(pool))

	firstUserID := createTestAccount(t, ctx, pool, models.RoleMember)
	secondUserID := createTestAccount(t, ctx, pool, models.RoleMember)
	trainerUserID := createTestAccount(t, ctx, pool, models.RoleTrainer)
	t.Cleanup(func() { cleanupTestUsers(t, ctx, pool, firstUserID, secondUserID, trainerUserID) })
	trainer := createTestTrainer(t, ctx, pool, trainerUserID)

	scheduledAt := time.Date(2030, 4, 1, 12, 0, 0, 0, time.UTC)
	booked, err := service.BookClass(ctx, firstUserID, BookClassInput{
		TrainerID:       trainer.ID,
		ClassName:       "Spin",
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("first BookClass: %v", err)
	}
	if booked.Status != models.BookingStatusPending {
		t.Fatalf("expected pending booking, got %q", booked.Status)
	}

	_, err = service.BookClass(ctx, secondUserID, BookClassInput{
		TrainerID:       trainer.ID,
		ClassName:       "Spin",
		ScheduledAt:     scheduledAt.Add(30 * time.Minute),
		DurationMinutes: 45,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	trainerBookings, err := service.ListBookings(ctx, trainerUserID, models.RoleTrainer, "", "upcoming")
	if err != nil {
		t.Fatalf("ListBookings trainer: %v", err)
	}
	if len(trainerBookings) != 1 || trainerBookings[0].ID != booked.ID {
		t.Fatalf("expected trainer to see booking %d, got %+v", booked.ID, trainerBookings)
	}
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("TEST_DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("TEST_DB_URL is not set")
			return
		}

		cfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			testDBErr = err
			return
		}

		testDBPool, testDBErr = pgxpool.NewWithConfig(context.Background(), cfg)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}

func newIntegrationChatService(pool *pgxpool.Pool) *ChatService {
	return NewChatService(
		repository.NewConversationRepository(pool),
		repository.NewMessageRepository(pool),
		repository.NewTrainerRepository(pool),
		repository.NewProfileRepository(pool),
		repository.NewUserRepository(pool),
	)
}

func createTestAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role string) int64 {
	t.Helper()

	userRepo := repository.NewUserRepository(pool)
	user := &models.User{
		Email:        fmt.Sprintf("chat-test-%s-%d@example.com", role, time.Now().UnixNano()),
		PasswordHash: "test-hash",
		Role:         role,
	}
	if err := userRepo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser(%s): %v", role, err)
	}

	first, last := "Test", "Member"
	if err := repository.NewProfileRepository(pool).Create(ctx, user.ID, &first, &last); err != nil {
		t.Fatalf("Create profile: %v", err)
	}
	return user.ID
}

func createTestTrainer(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID int64) *models.Trainer {
	t.Helper()

	trainer, err := repository.NewTrainerRepository(pool).Create(ctx, &userID, "Test", "Trainer")
	if err != nil {
		t.Fatalf("Create trainer: %v", err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(ctx, "DELETE FROM trainers WHERE id = $1", trainer.ID); err != nil {
			t.Errorf("cleanup trainer: %v", err)
		}
	})
	return trainer
}

func cleanupTestUsers(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userIDs ...int64) {
	t.Helper()

	if len(userIDs) == 0 {
		return
	}

	if _, err := pool.Exec(ctx, "DELETE FROM bookings WHERE user_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup bookings: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM conversations WHERE user_id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup conversations: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM users WHERE id = ANY($1)", userIDs); err != nil {
		t.Fatalf("cleanup users: %v", err)
	}
}
