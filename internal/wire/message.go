package wire

// ProtocolVersion is the current wire protocol version, exchanged
// during the handshake (§4.4, §6). A client and server must agree on
// this exactly; a mismatch closes the connection with ErrVersionMismatch.
//
// Adopted from original_source/src/protocol/mod.rs's PROTOCOL_VERSION.
const ProtocolVersion uint32 = 1

// Kind tags every frame on the wire. It is the first byte of a frame's
// payload, ahead of the CBOR-encoded body (§5).
type Kind byte

const (
	// Handshake.
	KindHello Kind = iota + 1
	KindWelcome

	// Requests (client → server). Each carries a Corr correlation id.
	KindCreateChannel
	KindKillChannel
	KindListChannels
	KindChannelStatus
	KindSubscribe
	KindUnsubscribe
	KindWriteInput
	KindResize
	KindPing
	KindDetach

	// Responses (server → client), matched to a request's Corr.
	KindOk
	KindErr

	// Events (server → client), unsolicited, no Corr.
	KindOutput
	KindChannelCreated
	KindChannelExited
	KindDropNotice
)

// String names a Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "Hello"
	case KindWelcome:
		return "Welcome"
	case KindCreateChannel:
		return "CreateChannel"
	case KindKillChannel:
		return "KillChannel"
	case KindListChannels:
		return "ListChannels"
	case KindChannelStatus:
		return "ChannelStatus"
	case KindSubscribe:
		return "Subscribe"
	case KindUnsubscribe:
		return "Unsubscribe"
	case KindWriteInput:
		return "WriteInput"
	case KindResize:
		return "Resize"
	case KindPing:
		return "Ping"
	case KindDetach:
		return "Detach"
	case KindOk:
		return "Ok"
	case KindErr:
		return "Err"
	case KindOutput:
		return "Output"
	case KindChannelCreated:
		return "ChannelCreated"
	case KindChannelExited:
		return "ChannelExited"
	case KindDropNotice:
		return "DropNotice"
	default:
		return "Unknown"
	}
}

// --- Handshake ---

// Hello is the client's opening message: protocol version and initial
// window size (§4.4).
type Hello struct {
	ProtocolVersion uint32 `cbor:"protocol_version"`
	Rows            uint16 `cbor:"rows"`
	Cols            uint16 `cbor:"cols"`
}

// Welcome is the server's handshake response, carrying the session id
// it assigned. Adopted from original_source's Welcome{session_id, protocol_version}.
type Welcome struct {
	SessionID       string `cbor:"session_id"`
	ProtocolVersion uint32 `cbor:"protocol_version"`
}

// --- Requests ---

// CreateChannel asks the server to spawn a new PTY channel.
type CreateChannel struct {
	Corr uint64            `cbor:"corr"`
	Name string            `cbor:"name"`
	Argv []string          `cbor:"argv"`
	Cwd  string            `cbor:"cwd,omitempty"`
	Env  map[string]string `cbor:"env,omitempty"`
	Rows uint16            `cbor:"rows"`
	Cols uint16            `cbor:"cols"`
}

// KillChannel asks the server to terminate a channel.
type KillChannel struct {
	Corr   uint64 `cbor:"corr"`
	Name   string `cbor:"name"`
	Signal int    `cbor:"signal,omitempty"`
}

// ListChannels asks for a snapshot of all known channels.
type ListChannels struct {
	Corr uint64 `cbor:"corr"`
}

// ChannelStatus asks for detailed status of one channel, or all channels
// when Name is empty.
type ChannelStatus struct {
	Corr uint64 `cbor:"corr"`
	Name string `cbor:"name,omitempty"`
}

// Subscribe adds to a session's subscription set. Wildcard is a sticky
// subscription to all channels, including ones created afterward
// (§14 of SPEC_FULL.md); Names is ignored when Wildcard is true.
type Subscribe struct {
	Corr     uint64   `cbor:"corr"`
	Names    []string `cbor:"names,omitempty"`
	Wildcard bool     `cbor:"wildcard,omitempty"`
}

// Unsubscribe removes from a session's subscription set.
type Unsubscribe struct {
	Corr     uint64   `cbor:"corr"`
	Names    []string `cbor:"names,omitempty"`
	Wildcard bool     `cbor:"wildcard,omitempty"`
}

// WriteInput sends stdin bytes to a named channel.
type WriteInput struct {
	Corr  uint64 `cbor:"corr"`
	Name  string `cbor:"name"`
	Bytes []byte `cbor:"bytes"`
}

// Resize changes a channel's PTY window size, or every channel's when
// Name is empty.
type Resize struct {
	Corr uint64 `cbor:"corr"`
	Name string `cbor:"name,omitempty"`
	Rows uint16 `cbor:"rows"`
	Cols uint16 `cbor:"cols"`
}

// Ping is a liveness probe; the server echoes Nonce back in an Ok.
type Ping struct {
	Corr  uint64 `cbor:"corr"`
	Nonce uint64 `cbor:"nonce"`
}

// Detach tells the server this session is leaving voluntarily — its
// channels keep running, distinguishing a clean detach from a dropped
// connection in server logs (§13 of SPEC_FULL.md).
type Detach struct {
	Corr uint64 `cbor:"corr"`
}

// --- Responses ---

// Ok is a successful response to a request, matched by Corr. Payload is
// a CBOR-encoded, request-specific body (e.g. a ChannelList), or empty.
type Ok struct {
	Corr    uint64 `cbor:"corr"`
	Payload []byte `cbor:"payload,omitempty"`
}

// Err is a failed response to a request, matched by Corr.
type Err struct {
	Corr    uint64    `cbor:"corr"`
	Kind    ErrorKind `cbor:"kind"`
	Message string    `cbor:"message"`
}

// ChannelInfo is one entry of a ListChannels Ok payload.
type ChannelInfo struct {
	Name      string `cbor:"name"`
	State     string `cbor:"state"`
	Command   string `cbor:"command"`
	CreatedAt int64  `cbor:"created_at"`
}

// ChannelList is the payload of a successful ListChannels response.
type ChannelList struct {
	Channels []ChannelInfo `cbor:"channels"`
}

// ChannelDetail is one entry of a ChannelStatus Ok payload.
type ChannelDetail struct {
	Name       string `cbor:"name"`
	Pid        int    `cbor:"pid"`
	State      string `cbor:"state"`
	ExitCode   int    `cbor:"exit_code,omitempty"`
	HasExited  bool   `cbor:"has_exited"`
	Command    string `cbor:"command"`
	Cwd        string `cbor:"cwd"`
	CreatedAt  int64  `cbor:"created_at"`
	LastExitAt int64  `cbor:"last_exit_at,omitempty"`
}

// ChannelStatusList is the payload of a successful ChannelStatus response.
type ChannelStatusList struct {
	Channels []ChannelDetail `cbor:"channels"`
}

// --- Events ---

// Output carries a chunk of a channel's stdout/stderr stream (§3
// OutputChunk). Seq is strictly monotonic per channel.
type Output struct {
	Name  string `cbor:"name"`
	Seq   uint64 `cbor:"seq"`
	Bytes []byte `cbor:"bytes"`
}

// ChannelCreated announces a new channel to all sessions.
type ChannelCreated struct {
	Name    string `cbor:"name"`
	Command string `cbor:"command"`
}

// ChannelExited announces a channel's terminal exit status.
type ChannelExited struct {
	Name string `cbor:"name"`
	Code int    `cbor:"code"`
}

// DropNotice informs a session that the bus dropped output for a
// channel it's subscribed to because it wasn't reading fast enough
// (§4.3 backpressure policy).
type DropNotice struct {
	Name         string `cbor:"name"`
	BytesDropped uint64 `cbor:"bytes_dropped"`
}
