package wire

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func encodeFrame(t *testing.T, hdr FrameHeader, body interface{}) []byte {
	t.Helper()
	h, err := cbor.Marshal(hdr)
	require.NoError(t, err)
	b, err := cbor.Marshal(body)
	require.NoError(t, err)
	return append(h, b...)
}

func TestDecodeFrameLabelsRoundTrip(t *testing.T) {
	frame := LabelsFrame{
		Seq: 42,
		Labels: []Label{
			{Src: "did:plc:abc", URI: "at://did:plc:abc/x/y", Val: "spam", CTS: "2025-01-01T00:00:00Z", Sig: []byte{1, 2, 3}},
		},
	}

	data := encodeFrame(t, FrameHeader{T: "#labels", Op: OpMessage}, frame)

	hdr, body, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, "#labels", hdr.T)
	require.Equal(t, OpMessage, hdr.Op)

	decoded, err := DecodeLabelsFrame(body)
	require.NoError(t, err)
	require.Equal(t, frame.Seq, decoded.Seq)
	require.Len(t, decoded.Labels, 1)
	require.Equal(t, "spam", decoded.Labels[0].Val)
}

func TestDecodeFrameRejectsTrailingBytes(t *testing.T) {
	data := encodeFrame(t, FrameHeader{T: "#info", Op: OpMessage}, InfoFrame{Name: "test"})
	data = append(data, 0xFF, 0xFF)

	_, _, err := DecodeFrame(data)
	require.Error(t, err)
}

func TestDecodeErrorFrame(t *testing.T) {
	msg := "rate limited"
	data := encodeFrame(t, FrameHeader{T: "", Op: OpError}, ErrorFrameBody{Error: "RateLimitExceeded", Message: &msg})

	hdr, body, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, OpError, hdr.Op)

	errBody, err := DecodeErrorFrame(body)
	require.NoError(t, err)
	require.Equal(t, "RateLimitExceeded", errBody.Error)
	require.Equal(t, "rate limited", *errBody.Message)
}

func TestMessageType(t *testing.T) {
	require.Equal(t, "com.atproto.label.subscribeLabels#labels", MessageType(FrameHeader{T: "#labels"}))
}
