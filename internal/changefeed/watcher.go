// Package changefeed subscribes to the external change-notification feed
// and invalidates the ServiceCache entry for publishers whose service
// record changed (spec.md §4.H). It runs independently of every Publisher
// Connection and never blocks label processing.
package changefeed

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/statestore"
)

const wantedCollection = "app.bsky.labeler.service"

// Event is one change-feed notification (spec.md §6 "Wire — change feed").
type Event struct {
	DID    string  `json:"did"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit is the commit-kind payload of an Event.
type Commit struct {
	Operation string `json:"operation"`
}

// Watcher subscribes to the change feed and invalidates ServiceCache
// entries for the configured publisher set.
type Watcher struct {
	endpoint    string
	wantedDIDs  map[string]struct{}
	store       *statestore.Store
	logger      *zap.Logger
	reconnectAt func(attempt int) time.Duration
}

// New builds a Watcher for the given change-feed endpoint and the set of
// configured publisher DIDs (spec.md §4.H: "wantedDids=<configured
// labeler DIDs>").
func New(endpoint string, dids []string, store *statestore.Store, logger *zap.Logger) *Watcher {
	wanted := make(map[string]struct{}, len(dids))
	for _, d := range dids {
		wanted[d] = struct{}{}
	}
	return &Watcher{
		endpoint:   endpoint,
		wantedDIDs: wanted,
		store:      store,
		logger:     logger,
		reconnectAt: func(attempt int) time.Duration {
			d := time.Duration(attempt) * 2 * time.Second
			if d > 30*time.Second {
				d = 30 * time.Second
			}
			return d
		},
	}
}

// Run subscribes and processes events until ctx is cancelled. Unlike a
// Publisher Connection, the watcher is not mission-critical for any single
// frame — a dropped connection here only delays (not breaks) the next
// cache invalidation, so it reconnects indefinitely rather than going
// Dead after a bounded number of attempts.
func (w *Watcher) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.runOnce(ctx); err != nil {
			attempt++
			w.logger.Warn("change feed connection failed, retrying", zap.Error(err), zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnectAt(attempt)):
			}
			continue
		}
		attempt = 0
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	subURL := w.subscribeURL()

	conn, _, _, err := ws.Dial(ctx, subURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.logger.Info("change feed connection open", zap.String("url", subURL))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return err
		}

		w.handleEvent(ctx, data)
	}
}

func (w *Watcher) handleEvent(ctx context.Context, data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		w.logger.Warn("dropping malformed change feed event", zap.Error(err))
		return
	}

	if event.Kind != "commit" || event.Commit == nil {
		return
	}
	if event.Commit.Operation != "create" && event.Commit.Operation != "update" {
		return
	}
	if _, ok := w.wantedDIDs[event.DID]; !ok {
		return
	}

	if err := w.store.InvalidateService(ctx, event.DID); err != nil {
		w.logger.Error("failed to invalidate service cache", zap.String("did", event.DID), zap.Error(err))
		return
	}
	w.logger.Info("invalidated service cache from change feed", zap.String("did", event.DID))
}

func (w *Watcher) subscribeURL() string {
	base, err := url.Parse(w.endpoint)
	if err != nil {
		return w.endpoint
	}
	q := base.Query()
	q.Set("wantedCollections", wantedCollection)
	dids := make([]string, 0, len(w.wantedDIDs))
	for d := range w.wantedDIDs {
		dids = append(dids, d)
	}
	q.Set("wantedDids", strings.Join(dids, ","))
	base.RawQuery = q.Encode()
	return base.String()
}
