package wstransport

import (
	"context"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/arcfault/callstream"
)

// Dial opens one call session against a serving Handler at rawURL and
// returns the client end of its transport, ready to hand to a
// callstream.Caller. The decoder types the session's response payloads; a
// nil decoder yields generic JSON forms.
func Dial(ctx context.Context, rawURL, methodName string, decode Decoder) (callstream.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(methodParam, methodName)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return newTransport(conn, decode), nil
}
