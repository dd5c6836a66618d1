package transport

import "github.com/gorilla/websocket"

// IsGracefulClose reports whether err represents a clean connection
// teardown (CloseNormalClosure/CloseGoingAway) rather than an abnormal
// drop, the same distinction internal/ws/handler.go drew with
// websocket.IsUnexpectedCloseError before deciding whether a close was
// worth a warning log. A concrete Transport is not required to speak
// the WebSocket close-code convention, but one that does can use this
// to classify the err it hands to Client.OnConnectionStateChanged.
func IsGracefulClose(err error) bool {
	if err == nil {
		return true
	}
	return !websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
