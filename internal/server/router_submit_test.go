package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
)

func TestSubmitPostThenReplyUpdatesCounter(t *testing.T) {
	stack := newTestStack(t, nil)

	created := stack.do(t, http.MethodPost, "/api/post", priyaPayload())
	if created.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", created.Code, created.Body.String())
	}
	var postBody submitBody
	decodeBody(t, created, &postBody)
	if !postBody.Success || postBody.Post == nil || postBody.Reply != nil {
		t.Fatalf("unexpected post response %#v", postBody)
	}
	if postBody.Post.ReplyCount != 0 || postBody.Post.Nickname != "Priya" {
		t.Fatalf("unexpected stored post %#v", postBody.Post)
	}

	replied := stack.do(t, http.MethodPost, "/api/post", map[string]string{
		"postId":       postBody.Post.ID,
		"nickname":     "Sam",
		"neighborhood": "Elm St",
		"content":      "I can help!",
	})
	if replied.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", replied.Code, replied.Body.String())
	}
	var replyBody submitBody
	decodeBody(t, replied, &replyBody)
	if !replyBody.Success || replyBody.Reply == nil || replyBody.Post != nil {
		t.Fatalf("unexpected reply response %#v", replyBody)
	}
	if replyBody.Reply.PostID != postBody.Post.ID {
		t.Fatalf("expected reply to reference %s, got %s", postBody.Post.ID, replyBody.Reply.PostID)
	}

	var stored posts.Post
	if err := stack.db.Where("id = ?", postBody.Post.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if stored.ReplyCount != 1 {
		t.Fatalf("expected reply count 1, got %d", stored.ReplyCount)
	}
	var replies []posts.Reply
	if err := stack.db.Where("post_id = ?", stored.ID).Find(&replies).Error; err != nil {
		t.Fatalf("failed to load replies: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("expected one linked reply, got %d", len(replies))
	}
}

func TestSubmitAssignsNeighborIDFromCookie(t *testing.T) {
	stack := newTestStack(t, func(deps *Dependencies) { deps.CookieName = "board_id" })

	first := stack.do(t, http.MethodPost, "/api/post", priyaPayload())
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	var firstBody submitBody
	decodeBody(t, first, &firstBody)
	if firstBody.Post.NeighborID == "" {
		t.Fatalf("expected a neighbor id to be assigned")
	}
	var issued *http.Cookie
	for _, cookie := range first.Result().Cookies() {
		if cookie.Name == "board_id" {
			issued = cookie
		}
	}
	if issued == nil || issued.Value != firstBody.Post.NeighborID || !issued.HttpOnly {
		t.Fatalf("expected http-only identity cookie carrying the neighbor id, got %#v", issued)
	}

	second := stack.do(t, http.MethodPost, "/api/post", priyaPayload(), &http.Cookie{Name: "board_id", Value: issued.Value})
	var secondBody submitBody
	decodeBody(t, second, &secondBody)
	if secondBody.Post.NeighborID != issued.Value {
		t.Fatalf("expected cookie identity to be reused, got %q", secondBody.Post.NeighborID)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatalf("did not expect a new cookie when one is presented")
	}

	explicit := priyaPayload()
	explicit["neighborId"] = "client-chosen"
	third := stack.do(t, http.MethodPost, "/api/post", explicit)
	var thirdBody submitBody
	decodeBody(t, third, &thirdBody)
	if thirdBody.Post.NeighborID != "client-chosen" {
		t.Fatalf("expected explicit neighbor id to win, got %q", thirdBody.Post.NeighborID)
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	stack := newTestStack(t, nil)

	testCases := []struct {
		name     string
		body     any
		status   int
		contains string
	}{
		{name: "malformed json", body: `{"nickname":`, status: http.StatusBadRequest, contains: errorInvalidRequest},
		{name: "missing offer", body: map[string]string{"nickname": "Priya", "neighborhood": "Oak Street", "need": "Boxes"}, status: http.StatusBadRequest, contains: "offer is required"},
		{name: "oversized need", body: map[string]string{"nickname": "Priya", "neighborhood": "Oak Street", "offer": "Sinks", "need": strings.Repeat("x", posts.MaxSwapTextLength+1)}, status: http.StatusBadRequest, contains: "need must be at most"},
		{name: "reply without content", body: map[string]string{"postId": "rec-001", "nickname": "Sam", "neighborhood": "Elm St"}, status: http.StatusBadRequest, contains: "content is required"},
		{name: "reply to missing post", body: map[string]string{"postId": "ghost", "nickname": "Sam", "neighborhood": "Elm St", "content": "Hi"}, status: http.StatusNotFound, contains: "post not found"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := stack.do(t, http.MethodPost, "/api/post", testCase.body)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
			var body errorBody
			decodeBody(t, recorder, &body)
			if !strings.Contains(body.Error, testCase.contains) {
				t.Fatalf("expected error containing %q, got %#v", testCase.contains, body)
			}
			if body.Code == "" {
				t.Fatalf("expected an error code")
			}
		})
	}
}

type failingSubmissions struct{}

func (failingSubmissions) Submit(context.Context, posts.Submission) (posts.SubmissionResult, error) {
	return posts.SubmissionResult{}, errors.New("disk on fire")
}

func TestSubmitMapsStoreFailuresWithoutDetail(t *testing.T) {
	stack := newTestStack(t, nil)
	if err := stack.db.Migrator().DropTable(&posts.Post{}); err != nil {
		t.Fatalf("failed to drop posts table: %v", err)
	}
	recorder := stack.do(t, http.MethodPost, "/api/post", priyaPayload())
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	var body errorBody
	decodeBody(t, recorder, &body)
	if body.Error != messageStoreFailure || body.Code != "posts.create_post.insert_failed" {
		t.Fatalf("unexpected store failure body %#v", body)
	}

	opaque := newTestStack(t, func(deps *Dependencies) { deps.Submissions = failingSubmissions{} })
	recorder = opaque.do(t, http.MethodPost, "/api/post", priyaPayload())
	decodeBody(t, recorder, &body)
	if recorder.Code != http.StatusInternalServerError || strings.Contains(body.Error, "disk") {
		t.Fatalf("expected opaque 500, got %d %#v", recorder.Code, body)
	}
}

func TestIdentityEndpointIsStable(t *testing.T) {
	stack := newTestStack(t, nil)
	first := stack.do(t, http.MethodGet, "/api/identity", nil)
	var firstBody struct {
		NeighborID string `json:"neighborId"`
	}
	decodeBody(t, first, &firstBody)
	cookies := first.Result().Cookies()
	if firstBody.NeighborID == "" || len(cookies) != 1 || cookies[0].Name != defaultCookieName {
		t.Fatalf("expected identity with cookie, got %q %#v", firstBody.NeighborID, cookies)
	}

	second := stack.do(t, http.MethodGet, "/api/identity", nil, cookies[0])
	var secondBody struct {
		NeighborID string `json:"neighborId"`
	}
	decodeBody(t, second, &secondBody)
	if secondBody.NeighborID != firstBody.NeighborID {
		t.Fatalf("expected stable identity, got %q then %q", firstBody.NeighborID, secondBody.NeighborID)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSubmissions) {
		t.Fatalf("expected missing submissions error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Submissions: failingSubmissions{}}); !errors.Is(err, errMissingFeedLoader) {
		t.Fatalf("expected missing loader error, got %v", err)
	}
}
