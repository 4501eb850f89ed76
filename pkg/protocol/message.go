package protocol

// MessageType is the value of the "type" member of a wire message.
type MessageType string

// Client → server message types.
const (
	TypeConnect   MessageType = "connect"
	TypeEvent     MessageType = "event"
	TypeHeartbeat MessageType = "heartbeat"
)

// Server → client message types.
const (
	TypeRender       MessageType = "render"
	TypePatch        MessageType = "patch"
	TypeRedirect     MessageType = "redirect"
	TypeError        MessageType = "error"
	TypeHeartbeatAck MessageType = "heartbeat_ack"
)

// ClientMessage is a message sent by the client.
// It is one of *Connect, *Event or *Heartbeat.
type ClientMessage interface {
	Type() MessageType
	clientMessage()
}

// ServerMessage is a message sent by the server.
// It is one of *Render, *Patch, *Redirect, *Error or *HeartbeatAck.
type ServerMessage interface {
	Type() MessageType
	serverMessage()
}

// Connect opens (or resumes) a live session on a fresh connection.
type Connect struct {
	Params map[string]string
}

// Event reports a user interaction inside a live region.
type Event struct {
	// Event is the application-level event name ("increment", "save").
	Event string

	// LiveViewID addresses the target session. Empty means "the session
	// attached to this connection"; the wire encodes it as null.
	LiveViewID string

	// Params holds the collected value attributes.
	Params map[string]string

	// Target is the name of the originating element, if any.
	Target string
}

// Heartbeat is a liveness probe from the client.
type Heartbeat struct{}

// Render ships a complete HTML snapshot of the live region.
type Render struct {
	LiveViewID string
	HTML       string
}

// Patch ships an ordered instruction sequence to apply to the client's
// current snapshot.
type Patch struct {
	Diff []PatchInstruction
}

// Redirect instructs the client to navigate away.
type Redirect struct {
	URL string
}

// Error reports a non-fatal failure to the client.
type Error struct {
	Message string
}

// HeartbeatAck acknowledges a client heartbeat.
type HeartbeatAck struct{}

func (*Connect) Type() MessageType   { return TypeConnect }
func (*Event) Type() MessageType     { return TypeEvent }
func (*Heartbeat) Type() MessageType { return TypeHeartbeat }

func (*Connect) clientMessage()   {}
func (*Event) clientMessage()     {}
func (*Heartbeat) clientMessage() {}

func (*Render) Type() MessageType       { return TypeRender }
func (*Patch) Type() MessageType        { return TypePatch }
func (*Redirect) Type() MessageType     { return TypeRedirect }
func (*Error) Type() MessageType        { return TypeError }
func (*HeartbeatAck) Type() MessageType { return TypeHeartbeatAck }

func (*Render) serverMessage()       {}
func (*Patch) serverMessage()        {}
func (*Redirect) serverMessage()     {}
func (*Error) serverMessage()        {}
func (*HeartbeatAck) serverMessage() {}
