package handlers

import (
	"net/http"
	"testing"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/gofiber/fiber/v2"
)

func TestRegisterValidatesBeforeTouchingDatabase(t *testing.T) {
	handler := NewAuthHandler(nil, nil, nil, nil, "secret")
	app := fiber.New()
	app.Post("/api/auth/register", handler.Register)

	tests := []struct {
		name string
		body string
	}{
		{name: "bad email", body: `{"email":"nope","password":"longenough","role":"member"}`},
		{name: "short password", body: `{"email":"a@b.co","password":"short","role":"member"}`},
		{name: "admin role", body: `{"email":"a@b.co","password":"longenough","role":"admin"}`},
		{name: "trainer without name", body: `{"email":"a@b.co","password":"longenough","role":"trainer"}`},
		{name: "malformed", body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, app, http.MethodPost, "/api/auth/register", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	handler := NewAuthHandler(nil, nil, nil, nil, "secret")
	app := fiber.New()
	app.Post("/api/auth/login", handler.Login)

	resp := doRequest(t, app, http.MethodPost, "/api/auth/login", `{"email":"not-an-email","password":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnnounceLoginPushesToLiveSessions(t *testing.T) {
	service := notifications.NewService(changefeed.NewFeed(), notifications.Options{})
	handler := NewAuthHandler(nil, nil, nil, &stubNotificationSource{
		services: map[int64]*notifications.Service{42: service},
	}, "secret")

	handler.announceLogin(42)
	handler.announceLogin(7)

	entries := service.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Type != models.NotificationLogin {
		t.Fatalf("expected login entry, got %q", entries[0].Type)
	}
}
