package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize is the largest payload (kind byte + CBOR body) Nexus
// will read or write in a single frame (§5). Anything larger closes
// the connection with ErrFrameTooLarge.
const MaxFrameSize = 16 * 1024 * 1024

// frameHeaderLength is the 4-byte big-endian payload length prefix
// (§5: "4-byte big-endian payload length followed by the payload").
const frameHeaderLength = 4

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Unknown trailing fields are ignored for forward compatibility
		// (§5: "new fields can be added tail-appended without breaking
		// older peers"). This is CBOR's default struct-decoding behavior;
		// DefaultMapType only affects decoding into interface-typed
		// targets, where CBOR maps become map[string]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: cbor decoder initialization failed: " + err.Error())
	}
}

// WriteFrame encodes kind and body as a single framed message and
// writes it to w: [4-byte BE length][1-byte kind][CBOR body].
func WriteFrame(w io.Writer, kind Kind, body any) error {
	payload, err := encMode.Marshal(body)
	if err != nil {
		return fmt.Errorf("wire: marshal %s body: %w", kind, err)
	}

	total := 1 + len(payload)
	if total > MaxFrameSize {
		return FrameTooLarge("frame of %d bytes exceeds maximum %d", total, MaxFrameSize)
	}

	frame := make([]byte, frameHeaderLength+total)
	binary.BigEndian.PutUint32(frame[:frameHeaderLength], uint32(total))
	frame[frameHeaderLength] = byte(kind)
	copy(frame[frameHeaderLength+1:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one framed message from r, returning its kind tag and
// the raw CBOR body bytes for the caller to unmarshal into the
// kind-specific struct. Returns ErrFrameTooLarge if the declared length
// exceeds MaxFrameSize, without attempting to read the oversized payload.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	total := binary.BigEndian.Uint32(header[:])
	if total > MaxFrameSize {
		return 0, nil, FrameTooLarge("declared frame length %d exceeds maximum %d", total, MaxFrameSize)
	}
	if total < 1 {
		return 0, nil, fmt.Errorf("wire: frame too short to contain a kind tag")
	}

	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return Kind(payload[0]), payload[1:], nil
}

// Unmarshal decodes a frame's CBOR body into v.
func Unmarshal(body []byte, v any) error {
	return decMode.Unmarshal(body, v)
}

// Marshal encodes v as CBOR, for building a nested payload (e.g. an
// Ok.Payload carrying a ChannelList) independently of a full frame.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}
