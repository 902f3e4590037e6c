// Package wsproto implements the subscription wire protocol and the
// connection manager that speaks it over WebSocket.
package wsproto

import "encoding/json"

// FrameType discriminates the self-describing wire frames.
type FrameType string

const (
	// client -> server
	FrameInit      FrameType = "init"
	FrameStart     FrameType = "start"
	FrameStop      FrameType = "stop"
	FrameTerminate FrameType = "terminate"

	// server -> client
	FrameInitAck   FrameType = "init_ack"
	FrameInitErr   FrameType = "init_err"
	FrameData      FrameType = "data"
	FrameError     FrameType = "error"
	FrameComplete  FrameType = "complete"
	FrameKeepalive FrameType = "keepalive"
)

// Frame is one message on the subscription protocol. ID is the
// client-chosen subscription identifier, unique per connection; session
// level frames carry no ID.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload of a start frame.
type StartPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName,omitempty"`
}

// ErrorPayload is the payload of error and init_err frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DataFrame builds a data frame carrying the projected payload.
func DataFrame(id string, payload interface{}) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameData, ID: id, Payload: raw}, nil
}

// ErrorFrame builds a per-subscription (id != "") or session (id == "")
// error frame.
func ErrorFrame(id, code, message string) Frame {
	raw, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Frame{Type: FrameError, ID: id, Payload: raw}
}

// CompleteFrame builds the terminal frame for one subscription.
func CompleteFrame(id string) Frame {
	return Frame{Type: FrameComplete, ID: id}
}

// KeepaliveFrame builds a liveness frame.
func KeepaliveFrame() Frame {
	return Frame{Type: FrameKeepalive}
}

// Client is the engine's view of one connection: a stable identity and a
// FIFO, non-blocking outbound sink.
type Client interface {
	// ID returns the stable connection identifier.
	ID() string

	// Enqueue appends a frame to the connection's outbound queue. It never
	// blocks; on overflow the sink sheds the oldest droppable frames and
	// reports slow-consumer errors itself.
	Enqueue(f Frame)
}

// SubscriptionHandler receives protocol events from the connection
// manager. The subscription engine implements it. Calls for one connection
// are made serially from its read loop; OnDisconnect is called exactly
// once per connection.
type SubscriptionHandler interface {
	OnStart(c Client, subID string, start StartPayload)
	OnStop(c Client, subID string)
	OnDisconnect(connID string)
}
