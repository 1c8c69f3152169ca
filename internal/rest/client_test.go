package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moveinn/minn/internal/model"
	"github.com/moveinn/minn/internal/session"
	"go.uber.org/zap"
)

func testSession() *session.Session {
	return &session.Session{Name: "test", UserID: "u-1", Token: "tok"}
}

func TestContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Chat/u-1" {
			t.Errorf("path = %q, want /Chat/u-1", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"otherUserId":"u-2","otherUserName":"Alba","lastMessage":"hi","lastMessageAt":"2024-01-01T10:00:00Z"},
			{"otherUserId":"u-3","otherUserName":"Marco","lastMessage":"ciao","lastMessageAt":"2024-01-02T09:00:00Z"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, testSession(), zap.NewNop())
	contacts, err := c.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts() error = %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}
	// Server order must be preserved as-is.
	if contacts[0].OtherUserID != "u-2" || contacts[1].OtherUserID != "u-3" {
		t.Errorf("contacts out of order: %+v", contacts)
	}
}

func TestContactsNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, testSession(), zap.NewNop())
	contacts, err := c.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts() on 404 should not error, got %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("got %d contacts, want 0", len(contacts))
	}
}

func TestContactsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, testSession(), zap.NewNop())
	if _, err := c.Contacts(context.Background()); err == nil {
		t.Error("Contacts() on 500 should error")
	}
}

func TestHistoryDefaultsStatusToDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Chat/history" {
			t.Errorf("path = %q, want /Chat/history", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("userId") != "u-1" || q.Get("contactId") != "u-2" {
			t.Errorf("query = %v, want userId=u-1 contactId=u-2", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"1","senderId":"u-2","content":"hi","sentAt":"2024-01-01T10:00:00Z"},
			{"id":"2","senderId":"u-1","content":"hey","sentAt":"2024-01-01T10:01:00Z","status":"read"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, testSession(), zap.NewNop())
	msgs, err := c.History(context.Background(), "u-2")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Status != model.StatusDelivered {
		t.Errorf("missing status normalized to %q, want delivered", msgs[0].Status)
	}
	if msgs[1].Status != model.StatusRead {
		t.Errorf("explicit status = %q, want read (untouched)", msgs[1].Status)
	}
}

func TestHistoryFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, testSession(), zap.NewNop())
	if _, err := c.History(context.Background(), "u-2"); err == nil {
		t.Error("History() on 502 should error")
	}
}
