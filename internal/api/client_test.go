package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                           DefaultBaseURL,
		"http://portal.test":         "http://portal.test/api",
		"http://portal.test/":        "http://portal.test/api",
		"http://portal.test/api":     "http://portal.test/api",
		"http://portal.test/api/":    "http://portal.test/api",
		" https://x.example.com/v1 ": "https://x.example.com/v1/api",
	}
	for in, want := range cases {
		if got := NormalizeBaseURL(in); got != want {
			t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "student@example.com" || body["username"] != "student@example.com" || body["password"] != "student123" {
			t.Errorf("unexpected login body %v", body)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access":  "tok-1",
			"refresh": "ref-1",
			"token":   "tok-1",
			"user":    map[string]any{"id": 7, "name": "Student", "email": "student@example.com", "role": "student"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	res, err := c.Login(context.Background(), "student@example.com", "student123")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.User.ID != 7 || res.User.Role != "student" {
		t.Fatalf("unexpected user %+v", res.User)
	}
	if c.Token() != "tok-1" {
		t.Fatalf("expected token to be stored, got %q", c.Token())
	}
}

func TestLoginFailureDecodesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"No active account found with the given credentials"},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Login(context.Background(), "x@example.com", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Detail != "No active account found with the given credentials" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var patched, posted bool

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 1, "sender": 2, "receiver": 1, "sender_name": "Bea", "receiver_name": "Me", "content": "hi", "timestamp": ts, "is_read": false},
			})
		case http.MethodPost:
			var body struct {
				Receiver int64  `json:"receiver"`
				Content  string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			posted = body.Receiver == 2 && body.Content == "hello"
			writeJSON(w, http.StatusCreated, map[string]any{
				"id": 2, "sender": 1, "receiver": 2, "content": body.Content, "timestamp": ts, "is_read": false,
			})
		}
	})
	mux.HandleFunc("/api/messages/1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		_ = json.NewDecoder(r.Body).Decode(&body)
		patched = r.Method == http.MethodPatch && body["is_read"]
		writeJSON(w, http.StatusOK, map[string]any{"id": 1})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/api", WithToken("tok"), WithTimeout(5*time.Second))
	ctx := context.Background()

	msgs, err := c.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SenderID != 2 || msgs[0].SenderName != "Bea" || !msgs[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	m, err := c.SendMessage(ctx, 2, "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if m.ID != 2 || !posted {
		t.Fatalf("unexpected send result %+v posted=%v", m, posted)
	}

	if err := c.MarkRead(ctx, 1); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !patched {
		t.Fatalf("expected PATCH with is_read=true")
	}
}

func TestUnauthorizedMatchesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type", "code": "token_not_valid"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Me(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "token_not_valid" {
		t.Fatalf("expected code token_not_valid, got %+v", apiErr)
	}
}

func TestSearchUsersSendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/search-users" || r.URL.Query().Get("search") != "tea" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 3, "name": "Teacher", "role": "teacher"}})
	}))
	defer srv.Close()

	users, err := New(srv.URL, WithToken("tok")).SearchUsers(context.Background(), "tea")
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Teacher" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestTransportErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url).ListMessages(context.Background())
	if err == nil {
		t.Fatalf("expected error from closed server")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("transport failure must not look like an api error")
	}
}
