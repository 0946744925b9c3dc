// Package hub fans events out to websocket clients. One goroutine owns the
// client set; every connection has its own writer goroutine.
package hub

// MessageType selects the websocket frame type.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame.
	BinaryMessage
)

// Message is one frame queued for clients.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
