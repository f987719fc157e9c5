package wire

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FrameHeader is the first of the two CBOR values in a subscription
// WebSocket binary message.
type FrameHeader struct {
	T  string `cbor:"t"`
	Op int8   `cbor:"op"`
}

const (
	// OpMessage marks a normal frame whose $type is "com.atproto.label.subscribeLabels" + T.
	OpMessage int8 = 1
	// OpError marks an error frame; the body carries an advisory message only.
	OpError int8 = -1
)

// ErrorFrameBody is the body of an op=-1 frame.
type ErrorFrameBody struct {
	Error   string  `cbor:"error"`
	Message *string `cbor:"message,omitempty"`
}

// DecodeFrame splits a single WebSocket binary message into its header and
// raw body, and rejects any trailing bytes left after both CBOR values are
// consumed (spec.md §4.G "Frame handling").
func DecodeFrame(data []byte) (FrameHeader, cbor.RawMessage, error) {
	dec := cbor.NewDecoder(bytes.NewReader(data))

	var hdr FrameHeader
	if err := dec.Decode(&hdr); err != nil {
		return FrameHeader{}, nil, fmt.Errorf("decode frame header: %w", err)
	}

	var body cbor.RawMessage
	if err := dec.Decode(&body); err != nil {
		return FrameHeader{}, nil, fmt.Errorf("decode frame body: %w", err)
	}

	if n := dec.NumBytesRead(); n != len(data) {
		return FrameHeader{}, nil, fmt.Errorf("trailing bytes after frame: consumed %d of %d", n, len(data))
	}

	return hdr, body, nil
}

// DecodeLabelsFrame decodes a "#labels" frame body.
func DecodeLabelsFrame(body cbor.RawMessage) (LabelsFrame, error) {
	var f LabelsFrame
	if err := cbor.Unmarshal(body, &f); err != nil {
		return LabelsFrame{}, fmt.Errorf("decode labels frame: %w", err)
	}
	return f, nil
}

// DecodeInfoFrame decodes a "#info" frame body.
func DecodeInfoFrame(body cbor.RawMessage) (InfoFrame, error) {
	var f InfoFrame
	if err := cbor.Unmarshal(body, &f); err != nil {
		return InfoFrame{}, fmt.Errorf("decode info frame: %w", err)
	}
	return f, nil
}

// DecodeErrorFrame decodes an op=-1 frame body.
func DecodeErrorFrame(body cbor.RawMessage) (ErrorFrameBody, error) {
	var f ErrorFrameBody
	if err := cbor.Unmarshal(body, &f); err != nil {
		return ErrorFrameBody{}, fmt.Errorf("decode error frame: %w", err)
	}
	return f, nil
}

// MessageType returns the frame's "$type" string per spec.md §4.G, e.g.
// "com.atproto.label.subscribeLabels#labels".
func MessageType(hdr FrameHeader) string {
	return "com.atproto.label.subscribeLabels" + hdr.T
}
