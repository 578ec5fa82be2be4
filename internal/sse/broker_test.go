package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/highlights"
	"github.com/starford/marginalia/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "document.created", Data: map[string]string{"path": "a.html"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: document.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.html"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishDocumentEvent_LibraryThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// First event triggers library.updated, the second is throttled.
	b.PublishDocumentEvent("created", "a.html")
	b.PublishDocumentEvent("updated", "b.html")
	// Unknown kinds are dropped.
	b.PublishDocumentEvent("renamed", "c.html")

	time.Sleep(50 * time.Millisecond)
	libraryCount, docCount := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "library.updated") {
			libraryCount++
		} else {
			docCount++
		}
	}

	if docCount != 2 {
		t.Errorf("document events = %d, want 2", docCount)
	}
	if libraryCount != 1 {
		t.Errorf("library events = %d, want 1 (throttled)", libraryCount)
	}
}

func TestPublishHighlight(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	h := models.Highlight{ID: "h1", DocumentID: "a.html", Text: "quick", Color: models.ColorYellow, StartOffset: 4, EndOffset: 9}
	b.PublishHighlight(highlights.Event{Kind: highlights.EventCreated, Highlight: h})
	b.PublishHighlight(highlights.Event{Kind: highlights.EventRolledBack, Op: "create", Highlight: h, Err: errors.New("boom")})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "event: highlight.created") || !strings.Contains(msgs[0], `"id":"h1"`) {
		t.Errorf("created message = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "event: highlight.rolled_back") || !strings.Contains(msgs[1], `"op":"create"`) || !strings.Contains(msgs[1], `"error":"boom"`) {
		t.Errorf("rolled back message = %q", msgs[1])
	}
}

func TestSubscribeDocumentFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	fox := b.Subscribe("fox.html")
	defer b.Unsubscribe(fox)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.PublishDocumentEvent("updated", "fox.html")
	b.PublishDocumentEvent("updated", "dog.html")
	b.PublishHighlight(highlights.Event{Kind: highlights.EventCreated, Highlight: models.Highlight{ID: "h1", DocumentID: "dog.html"}})
	b.PublishHighlight(highlights.Event{Kind: highlights.EventCreated, Highlight: models.Highlight{ID: "h2", DocumentID: "fox.html"}})

	time.Sleep(50 * time.Millisecond)
	foxMsgs := drain(fox)
	for _, m := range foxMsgs {
		if strings.Contains(m, "dog.html") {
			t.Errorf("fox subscriber got %q", m)
		}
	}
	// document.updated fox, library.updated, highlight.created h2
	if len(foxMsgs) != 3 {
		t.Errorf("fox subscriber got %d messages: %q", len(foxMsgs), foxMsgs)
	}
	if n := len(drain(all)); n != 5 {
		t.Errorf("unfiltered subscriber got %d messages, want 5", n)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "document.updated", Data: map[string]string{"path": "x.html"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: document.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "document.updated", Data: map[string]string{"path": "x.html"}})
	b.PublishDocumentEvent("updated", "x.html")
	b.PublishHighlight(highlights.Event{Kind: highlights.EventDeleted})
}
