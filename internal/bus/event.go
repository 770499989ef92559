package bus

import "time"

// Kind names an event category. Kinds are dotted: "transport.connected",
// "inbound.message-create".
type Kind string

const (
	TransportConnecting   Kind = "transport.connecting"
	TransportConnected    Kind = "transport.connected"
	TransportReconnecting Kind = "transport.reconnecting"
	TransportDisconnected Kind = "transport.disconnected"
	TransportFailed       Kind = "transport.failed"

	InboundMessageCreate Kind = "inbound.message-create"
	InboundMessageUpdate Kind = "inbound.message-update"
	InboundMessageDelete Kind = "inbound.message-delete"
	InboundTyping        Kind = "inbound.typing"
	InboundPresence      Kind = "inbound.presence"
	InboundPing          Kind = "inbound.ping"

	SessionStatusChanged Kind = "session.status_changed"
	ViewChanged          Kind = "view.changed"
	MessageFailed        Kind = "message.failed"
)

// Namespaces accepted by Subscribe and Stream.
const (
	Transport Kind = "transport."
	Inbound   Kind = "inbound."
	Session   Kind = "session."
	View      Kind = "view."
	Message   Kind = "message."
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// Reconnecting is the payload of TransportReconnecting.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
	Reason  string
}

// Failed is the payload of TransportFailed.
type Failed struct {
	Attempts int
	Reason   string
}

// SendFailure is the payload of MessageFailed.
type SendFailure struct {
	ConversationID string
	MessageID      string
	Err            string
}
