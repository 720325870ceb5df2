package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMessenger_SendText(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &gotBody); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMessenger(WithPageToken("tok"), WithBaseURL(srv.URL))
	if err := m.SendText(context.Background(), "psid-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/me/messages" {
		t.Errorf("expected /me/messages path, got %q", gotPath)
	}
	rec, ok := gotBody["recipient"].(map[string]interface{})
	if !ok || rec["id"] != "psid-1" {
		t.Errorf("recipient not set correctly: %v", gotBody["recipient"])
	}
	msg, ok := gotBody["message"].(map[string]interface{})
	if !ok || msg["text"] != "hello" {
		t.Errorf("message text not set correctly: %v", gotBody["message"])
	}
}

func TestMessenger_SendButtons(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMessenger(WithPageToken("tok"), WithBaseURL(srv.URL))
	buttons := []Button{{Title: "Book a flight", Payload: "2"}}
	if err := m.SendButtons(context.Background(), "psid-1", "What next?", buttons); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := gotBody["message"].(map[string]interface{})
	att := msg["attachment"].(map[string]interface{})
	if att["type"] != "template" {
		t.Errorf("expected template attachment, got %v", att["type"])
	}
	payload := att["payload"].(map[string]interface{})
	if payload["template_type"] != "button" || payload["text"] != "What next?" {
		t.Errorf("unexpected template payload: %v", payload)
	}
}

func TestMessenger_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewMessenger(WithPageToken("tok"), WithBaseURL(srv.URL))
	if err := m.SendText(context.Background(), "psid-1", "hello"); err == nil {
		t.Error("expected error on 400 response")
	}
}

func TestMessenger_NoTokenSkipsSend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	m := NewMessenger(WithBaseURL(srv.URL))
	if err := m.SendText(context.Background(), "psid-1", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("send should be skipped when no page token is configured")
	}
}

func TestRenderButtonsAsText(t *testing.T) {
	out := renderButtonsAsText("Pick one:", []Button{
		{Title: "One-way"},
		{Title: "Return"},
	})
	want := "Pick one:\n1) One-way\n2) Return"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}
