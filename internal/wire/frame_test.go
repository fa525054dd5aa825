package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		body any
	}{
		{"hello", KindHello, Hello{ProtocolVersion: ProtocolVersion, Rows: 24, Cols: 80}},
		{"empty write", KindWriteInput, WriteInput{Corr: 1, Name: "shell", Bytes: nil}},
		{"max name", KindCreateChannel, CreateChannel{
			Corr: 42,
			Name: strings.Repeat("n", 255),
			Argv: []string{"bash", "-lc", "echo hi"},
			Rows: 24, Cols: 80,
		}},
		{"unicode name", KindKillChannel, KillChannel{Corr: 7, Name: "café-ログ"}},
		{"max payload", KindWriteInput, WriteInput{Corr: 9, Name: "x", Bytes: bytes.Repeat([]byte{'a'}, 64*1024)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tc.kind, tc.body))

			kind, body, err := ReadFrame(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.kind, kind)

			switch tc.kind {
			case KindHello:
				var got Hello
				require.NoError(t, Unmarshal(body, &got))
				require.Equal(t, tc.body, got)
			case KindWriteInput:
				var got WriteInput
				require.NoError(t, Unmarshal(body, &got))
				want := tc.body.(WriteInput)
				require.Equal(t, want.Corr, got.Corr)
				require.Equal(t, want.Name, got.Name)
				require.True(t, bytes.Equal(want.Bytes, got.Bytes))
			case KindCreateChannel:
				var got CreateChannel
				require.NoError(t, Unmarshal(body, &got))
				require.Equal(t, tc.body, got)
			case KindKillChannel:
				var got KillChannel
				require.NoError(t, Unmarshal(body, &got))
				require.Equal(t, tc.body, got)
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	// Declare a length beyond MaxFrameSize without providing the bytes;
	// ReadFrame must reject based on the header alone.
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(header)

	_, _, err := ReadFrame(&buf)
	require.Error(t, err)
	var wireErr *Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, ErrFrameTooLarge, wireErr.Kind)
}

func TestWriteFrameTooLarge(t *testing.T) {
	oversized := WriteInput{Corr: 1, Name: "x", Bytes: bytes.Repeat([]byte{'a'}, MaxFrameSize+1)}
	var buf bytes.Buffer
	err := WriteFrame(&buf, KindWriteInput, oversized)
	require.Error(t, err)
	var wireErr *Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, ErrFrameTooLarge, wireErr.Kind)
}

func TestEmptyOutputFrameRoundTrips(t *testing.T) {
	// Boundary property (§8): a chunk with no bytes should never be
	// constructed by producers. This test documents the invariant at
	// the wire layer: an Output with empty Bytes still encodes/decodes
	// correctly, but internal/bus is responsible for never emitting one.
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, KindOutput, Output{Name: "x", Seq: 0, Bytes: []byte{}}))
	kind, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, KindOutput, kind)
	var got Output
	require.NoError(t, Unmarshal(body, &got))
	require.Empty(t, got.Bytes)
}
