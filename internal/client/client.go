package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"go.uber.org/zap"
)

const (
	pathSubmit   = "/api/post"
	pathFeed     = "/api/feed"
	pathIdentity = "/api/identity"
	pathStream   = "/api/feed/stream"

	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 64 * 1024
)

var (
	errMissingBaseURL = errors.New("client: base url is required")
	noOpLogger        = zap.NewNop()
)

// APIError is a non-2xx response from the board API. It matches the posts error classes.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("board api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("board api: %d %s (%s)", e.Status, e.Message, e.Code)
}

func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == posts.ErrValidation
	case http.StatusNotFound:
		return target == posts.ErrNotFound
	default:
		return e.Status >= http.StatusInternalServerError && target == posts.ErrStore
	}
}

type Config struct {
	BaseURL string
	// HTTPClient is used for regular requests. Streams use StreamClient.
	HTTPClient   *http.Client
	StreamClient *http.Client
	Logger       *zap.Logger
}

// Client talks to the board API over HTTP. It keeps server-issued cookies for its lifetime.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	stream  *http.Client
	logger  *zap.Logger
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout, Jar: jar}
	}
	streamClient := cfg.StreamClient
	if streamClient == nil {
		streamClient = &http.Client{Jar: httpClient.Jar}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{baseURL: baseURL, http: httpClient, stream: streamClient, logger: logger}, nil
}

type submitRequest struct {
	PostID       string `json:"postId,omitempty"`
	NeighborID   string `json:"neighborId,omitempty"`
	Nickname     string `json:"nickname"`
	Neighborhood string `json:"neighborhood"`
	Offer        string `json:"offer,omitempty"`
	Need         string `json:"need,omitempty"`
	Content      string `json:"content,omitempty"`
}

type submitResponse struct {
	Success bool         `json:"success"`
	Post    *posts.Post  `json:"post"`
	Reply   *posts.Reply `json:"reply"`
}

// Submit creates a post, or a reply when the submission carries a post id.
func (c *Client) Submit(ctx context.Context, submission posts.Submission) (posts.SubmissionResult, error) {
	body, err := json.Marshal(submitRequest{
		PostID:       submission.PostID,
		NeighborID:   submission.NeighborID,
		Nickname:     submission.Nickname,
		Neighborhood: submission.Neighborhood,
		Offer:        submission.Offer,
		Need:         submission.Need,
		Content:      submission.Content,
	})
	if err != nil {
		return posts.SubmissionResult{}, err
	}
	var response submitResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(pathSubmit, nil), bytes.NewReader(body), &response); err != nil {
		return posts.SubmissionResult{}, err
	}
	if !response.Success || (response.Post == nil && response.Reply == nil) {
		return posts.SubmissionResult{}, &APIError{Status: http.StatusBadGateway, Message: "unexpected submission response"}
	}
	return posts.SubmissionResult{Post: response.Post, Reply: response.Reply}, nil
}

// LoadFeed fetches one feed page. It makes the client usable as a feed.Loader.
func (c *Client) LoadFeed(ctx context.Context, pageSize int) (feed.Feed, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("limit", strconv.Itoa(pageSize))
	}
	var loaded feed.Feed
	if err := c.do(ctx, http.MethodGet, c.endpoint(pathFeed, query), nil, &loaded); err != nil {
		return feed.Feed{}, err
	}
	return loaded, nil
}

// Identity asks the server for the neighbor id bound to this client's cookie.
func (c *Client) Identity(ctx context.Context) (string, error) {
	var response struct {
		NeighborID string `json:"neighborId"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint(pathIdentity, nil), nil, &response); err != nil {
		return "", err
	}
	return response.NeighborID, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	target.RawQuery = ""
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, out any) error {
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Debug("board api request failed", zap.String("method", method), zap.String("url", target), zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", target, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{Status: response.StatusCode}
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil {
		apiErr.Message = http.StatusText(response.StatusCode)
		return apiErr
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Error == "" {
		apiErr.Message = http.StatusText(response.StatusCode)
		return apiErr
	}
	apiErr.Message = body.Error
	apiErr.Code = body.Code
	return apiErr
}
