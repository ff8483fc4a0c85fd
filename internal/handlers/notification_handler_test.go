package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/gofiber/fiber/v2"
)

type stubNotificationSource struct {
	services map[int64]*notifications.Service
}

func (s *stubNotificationSource) Get(viewerID int64) (*notifications.Service, bool) {
	service, ok := s.services[viewerID]
	return service, ok
}

func newNotificationTestApp(source notificationSource, userID string) *fiber.App {
	handler := NewNotificationHandler(source)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("role", models.RoleMember)
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/api/v1/notifications", handler.List)
	app.Post("/api/v1/notifications/read-all", handler.MarkAllAsRead)
	app.Post("/api/v1/notifications/:id/read", handler.MarkAsRead)
	app.Delete("/api/v1/notifications", handler.ClearAll)
	return app
}

func decodeListView(t *testing.T, resp *http.Response) notifications.ListView {
	t.Helper()
	var view notifications.ListView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return view
}

func TestListNotificationsWithoutLiveSession(t *testing.T) {
	app := newNotificationTestApp(&stubNotificationSource{}, "42")

	resp := doRequest(t, app, http.MethodGet, "/api/v1/notifications", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	view := decodeListView(t, resp)
	if len(view.Notifications) != 0 || view.UnreadCount != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
}

func TestNotificationMutations(t *testing.T) {
	service := notifications.NewService(changefeed.NewFeed(), notifications.Options{})
	first := service.Push(models.NotificationEntry{Type: models.NotificationMessage, Title: "New Message", Body: "Hi"})
	service.Push(models.NotificationEntry{Type: models.NotificationBooking, Title: "Class Booked!"})

	app := newNotificationTestApp(&stubNotificationSource{
		services: map[int64]*notifications.Service{42: service},
	}, "42")

	resp := doRequest(t, app, http.MethodGet, "/api/v1/notifications", "")
	view := decodeListView(t, resp)
	if len(view.Notifications) != 2 || view.UnreadCount != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Notifications[0].Icon != "calendar-check" {
		t.Fatalf("expected newest entry first with booking icon, got %+v", view.Notifications[0])
	}

	resp = doRequest(t, app, http.MethodPost, "/api/v1/notifications/"+first.ID+"/read", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if view := decodeListView(t, resp); view.UnreadCount != 1 {
		t.Fatalf("expected 1 unread, got %d", view.UnreadCount)
	}

	resp = doRequest(t, app, http.MethodPost, "/api/v1/notifications/missing/read", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/api/v1/notifications/read-all", "")
	if view := decodeListView(t, resp); view.UnreadCount != 0 {
		t.Fatalf("expected 0 unread, got %d", view.UnreadCount)
	}

	resp = doRequest(t, app, http.MethodDelete, "/api/v1/notifications", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(service.Entries()) != 0 {
		t.Fatalf("expected entries cleared")
	}
}
