package takedown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/wire"
)

type call struct {
	method string
	subj   string
	ref    string
}

type fakeClient struct {
	calls []call
	err   error
}

func (f *fakeClient) TakedownActor(_ context.Context, did, ref string, _ time.Time) error {
	f.calls = append(f.calls, call{"TakedownActor", did, ref})
	return f.err
}

func (f *fakeClient) UntakedownActor(_ context.Context, did string, _ time.Time) error {
	f.calls = append(f.calls, call{"UntakedownActor", did, ""})
	return f.err
}

func (f *fakeClient) TakedownRecord(_ context.Context, uri, ref string, _ time.Time) error {
	f.calls = append(f.calls, call{"TakedownRecord", uri, ref})
	return f.err
}

func (f *fakeClient) UntakedownRecord(_ context.Context, uri string, _ time.Time) error {
	f.calls = append(f.calls, call{"UntakedownRecord", uri, ""})
	return f.err
}

const modDID = "did:plc:moderation"

func TestDispatchTakedownActor(t *testing.T) {
	client := &fakeClient{}
	d := New(modDID, client, zap.NewNop())

	d.Dispatch(context.Background(), wire.Label{
		Src: modDID,
		URI: "did:plc:baduser",
		Val: "!takedown",
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Len(t, client.calls, 1)
	require.Equal(t, "TakedownActor", client.calls[0].method)
	require.Equal(t, "did:plc:baduser", client.calls[0].subj)
	require.Equal(t, "BSKY-TAKEDOWN-20250601T000000Z", client.calls[0].ref)
}

func TestDispatchUntakedownRecord(t *testing.T) {
	client := &fakeClient{}
	d := New(modDID, client, zap.NewNop())
	neg := true

	d.Dispatch(context.Background(), wire.Label{
		Src: modDID,
		URI: "at://did:plc:baduser/app.bsky.feed.post/xyz",
		Val: "!takedown",
		Neg: &neg,
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Len(t, client.calls, 1)
	require.Equal(t, "UntakedownRecord", client.calls[0].method)
}

func TestDispatchIgnoresUntrustedSource(t *testing.T) {
	client := &fakeClient{}
	d := New(modDID, client, zap.NewNop())

	d.Dispatch(context.Background(), wire.Label{
		Src: "did:plc:someoneelse",
		URI: "did:plc:baduser",
		Val: "!takedown",
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Empty(t, client.calls)
}

func TestDispatchIgnoresNonTakedownValue(t *testing.T) {
	client := &fakeClient{}
	d := New(modDID, client, zap.NewNop())

	d.Dispatch(context.Background(), wire.Label{
		Src: modDID,
		URI: "did:plc:baduser",
		Val: "spam",
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Empty(t, client.calls)
}

func TestDispatchDisabledWithoutModServiceDID(t *testing.T) {
	client := &fakeClient{}
	d := New("", client, zap.NewNop())

	d.Dispatch(context.Background(), wire.Label{
		Src: modDID,
		URI: "did:plc:baduser",
		Val: "!takedown",
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Empty(t, client.calls)
}

func TestDispatchSwallowsRPCError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	d := New(modDID, client, zap.NewNop())

	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), wire.Label{
			Src: modDID,
			URI: "did:plc:baduser",
			Val: "!takedown",
			CTS: "2025-06-01T00:00:00Z",
		})
	})
	require.Len(t, client.calls, 1)
}

func TestDispatchUnrecognizedSubjectShape(t *testing.T) {
	client := &fakeClient{}
	d := New(modDID, client, zap.NewNop())

	d.Dispatch(context.Background(), wire.Label{
		Src: modDID,
		URI: "https://example.com/not-an-atproto-uri",
		Val: "!takedown",
		CTS: "2025-06-01T00:00:00Z",
	})

	require.Empty(t, client.calls)
}
