// Package takedown translates a trusted publisher's !takedown labels into
// calls against the downstream moderation dataplane (spec.md §4.F).
package takedown

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/dataplane"
	"github.com/arc-self/muncher/internal/wire"
)

const takedownValue = "!takedown"

// Dispatcher is enabled only when a trusted moderation service DID is
// configured (spec.md §4.F).
type Dispatcher struct {
	modServiceDID string
	client        dataplane.Client
	logger        *zap.Logger
	now           func() time.Time
}

// New builds a Dispatcher. An empty modServiceDID disables dispatch
// entirely — Dispatch becomes a no-op, matching "Enabled only when a
// trusted modServiceDid is configured" in spec.md §4.F.
func New(modServiceDID string, client dataplane.Client, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{modServiceDID: modServiceDID, client: client, logger: logger, now: time.Now}
}

// Dispatch inspects label and, if it is an accepted !takedown label from
// the trusted moderation DID, calls the matching dataplane method. The
// label row is assumed already inserted by the caller; RPC failures here
// are logged and swallowed, never retried (spec.md §4.F, §7).
func (d *Dispatcher) Dispatch(ctx context.Context, label wire.Label) {
	if d.modServiceDID == "" || label.Src != d.modServiceDID || label.Val != takedownValue {
		return
	}

	ref := buildRef(label.CTS)
	seen := d.now()
	neg := label.IsNeg()

	var err error
	switch {
	case strings.HasPrefix(label.URI, "did:"):
		if neg {
			err = d.client.UntakedownActor(ctx, label.URI, seen)
		} else {
			err = d.client.TakedownActor(ctx, label.URI, ref, seen)
		}
	case strings.HasPrefix(label.URI, "at://"):
		if neg {
			err = d.client.UntakedownRecord(ctx, label.URI, seen)
		} else {
			err = d.client.TakedownRecord(ctx, label.URI, ref, seen)
		}
	default:
		d.logger.Error("takedown label has unrecognized subject shape",
			zap.String("uri", label.URI),
		)
		return
	}

	if err != nil {
		d.logger.Error("dataplane takedown dispatch failed",
			zap.String("uri", label.URI),
			zap.Bool("neg", neg),
			zap.Error(err),
		)
	}
}

// buildRef derives the deterministic takedown reference: "BSKY-TAKEDOWN-"
// plus cts with every non-alphanumeric character stripped (spec.md §4.F).
func buildRef(cts string) string {
	var b strings.Builder
	b.WriteString("BSKY-TAKEDOWN-")
	for _, r := range cts {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
