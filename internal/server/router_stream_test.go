package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/gorilla/websocket"
)

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	response, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected submit status: %d", response.StatusCode)
	}
	return response
}

func TestFeedStreamEmitsChangeEvents(t *testing.T) {
	stack := newTestStack(t, nil)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/api/feed/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = streamResp.Body.Close() })
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	postJSON(t, server.URL+"/api/post", priyaPayload())

	streamReader := bufio.NewReader(streamResp.Body)
	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for feed change event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != EventFeedChange {
				continue
			}
			var event changefeed.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.Collection != posts.CollectionPosts || event.Operation != changefeed.OperationInsert {
				t.Fatalf("unexpected event %#v", event)
			}
			if len(event.RecordIDs) != 1 || event.RecordIDs[0] != "rec-001" {
				t.Fatalf("unexpected record ids %#v", event.RecordIDs)
			}
			return
		}
	}
}

func TestFeedStreamSendsHeartbeats(t *testing.T) {
	stack := newTestStack(t, func(deps *Dependencies) { deps.HeartbeatInterval = 20 * time.Millisecond })
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/api/feed/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = streamResp.Body.Close() })

	lines := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(streamResp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before heartbeat")
			}
			if strings.TrimSpace(line) == "event:"+eventHeartbeat {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for heartbeat")
		}
	}
}

func TestFeedSocketRelaysReplyEvents(t *testing.T) {
	stack := newTestStack(t, nil)
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	postResp := postJSON(t, server.URL+"/api/post", priyaPayload())
	var created submitBody
	if err := json.NewDecoder(postResp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode post: %v", err)
	}

	socketURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/feed/ws"
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	postJSON(t, server.URL+"/api/post", map[string]string{
		"postId":       created.Post.ID,
		"nickname":     "Sam",
		"neighborhood": "Elm St",
		"content":      "I can help!",
	})

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !(seen[posts.CollectionReplies] && seen[posts.CollectionPosts]) {
		var message socketMessage
		if err := conn.ReadJSON(&message); err != nil {
			t.Fatalf("failed to read websocket message: %v", err)
		}
		if message.Type != EventFeedChange || message.Event == nil {
			t.Fatalf("unexpected message %#v", message)
		}
		seen[message.Event.Collection] = true
		if message.Event.Collection == posts.CollectionPosts && message.Event.Operation != changefeed.OperationUpdate {
			t.Fatalf("expected the counter bump to arrive as an update, got %#v", message.Event)
		}
	}
}

func TestStreamRoutesRequireChangeSubscriber(t *testing.T) {
	stack := newTestStack(t, func(deps *Dependencies) { deps.Changes = nil })
	if recorder := stack.do(t, http.MethodGet, "/api/feed/stream", nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a change subscriber, got %d", recorder.Code)
	}
}
