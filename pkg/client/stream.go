package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ErrStopStream may be returned by a StreamReports callback to end the stream.
var ErrStopStream = errors.New("stop stream")

// StreamReports delivers crash reports as the daemon finishes them until ctx
// ends, fn returns an error or the daemon closes the stream.
func (c *Client) StreamReports(ctx context.Context, fn func(Report) error) error {
	u, err := url.Parse(c.baseURL + "/reports/stream")
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial report stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var r Report
		if err := conn.ReadJSON(&r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read report: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
