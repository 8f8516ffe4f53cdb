package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"go.uber.org/zap"
)

const (
	eventFeedChange = "feed-change"
	maxEventBytes   = 1 << 20
)

// Subscribe opens the server-sent change stream. The returned channel closes when ctx is
// done or the server ends the stream.
func (c *Client) Subscribe(ctx context.Context) (<-chan changefeed.Event, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(pathStream, nil), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "text/event-stream")
	response, err := c.stream.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, decodeAPIError(response)
	}

	events := make(chan changefeed.Event, 16)
	go func() {
		defer close(events)
		defer response.Body.Close()

		scanner := bufio.NewScanner(response.Body)
		scanner.Buffer(make([]byte, 0, 4096), maxEventBytes)
		eventType := ""
		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if eventType == eventFeedChange && data.Len() > 0 {
					var event changefeed.Event
					if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
						c.logger.Warn("discarding malformed change event", zap.Error(err))
					} else {
						select {
						case events <- event:
						case <-ctx.Done():
							return
						}
					}
				}
				eventType = ""
				data.Reset()
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("change stream ended", zap.Error(err))
		}
	}()
	return events, nil
}
