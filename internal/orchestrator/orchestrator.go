// Package orchestrator spawns one Publisher Connection per configured DID,
// owns the Change Watcher, and aggregates shutdown and status across all
// of them (spec.md §4.I).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/changefeed"
	"github.com/arc-self/muncher/internal/connection"
	"github.com/arc-self/muncher/internal/dataplane"
	"github.com/arc-self/muncher/internal/identity"
	"github.com/arc-self/muncher/internal/sink"
	"github.com/arc-self/muncher/internal/statestore"
	"github.com/arc-self/muncher/internal/takedown"
	"github.com/arc-self/muncher/internal/validator"
)

const statusLogInterval = 60 * time.Second

// Orchestrator is the top-level lifecycle owner described in spec.md §4.I.
type Orchestrator struct {
	dids       []string
	resolver   *identity.Resolver
	store      *statestore.Store
	validator  *validator.Validator
	sink       sink.Sink
	dispatcher *takedown.Dispatcher
	watcher    *changefeed.Watcher
	logger     *zap.Logger

	// closeStore releases the downstream relational store handle; nil if
	// the caller manages its lifetime separately.
	closeStore func() error

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	connections map[string]*connection.Connection
}

// Config bundles everything Start needs to wire a fresh Orchestrator.
type Config struct {
	DIDs        []string
	Resolver    *identity.Resolver
	Store       *statestore.Store
	Validator   *validator.Validator
	Sink        sink.Sink
	ModServiceDID string
	Dataplane   dataplane.Client
	ChangeFeedURL string
	Logger      *zap.Logger
	CloseStore  func() error
}

// New builds an Orchestrator from cfg. It does not start anything.
func New(cfg Config) *Orchestrator {
	var dispatcher *takedown.Dispatcher
	if cfg.ModServiceDID != "" && cfg.Dataplane != nil {
		dispatcher = takedown.New(cfg.ModServiceDID, cfg.Dataplane, cfg.Logger)
	}

	return &Orchestrator{
		dids:        cfg.DIDs,
		resolver:    cfg.Resolver,
		store:       cfg.Store,
		validator:   cfg.Validator,
		sink:        cfg.Sink,
		dispatcher:  dispatcher,
		watcher:     changefeed.New(cfg.ChangeFeedURL, cfg.DIDs, cfg.Store, cfg.Logger),
		logger:      cfg.Logger,
		closeStore:  cfg.CloseStore,
		connections: make(map[string]*connection.Connection, len(cfg.DIDs)),
	}
}

// Start initializes the Change Watcher, then subscribes to each configured
// DID sequentially (spec.md §4.I: "sequential start simplifies bootstrap
// logging; each subscription then runs concurrently"). It is an error to
// call Start twice.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("orchestrator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.started = true

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watcher.Run(runCtx)
	}()

	for _, did := range o.dids {
		conn := connection.New(did, o.resolver, o.store, o.validator, o.sink, o.dispatcher, o.logger)
		o.connections[did] = conn

		o.wg.Add(1)
		go func(c *connection.Connection) {
			defer o.wg.Done()
			c.Run(runCtx)
		}(conn)

		o.logger.Info("subscribed to publisher", zap.String("did", did))
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.statusLoop(runCtx)
	}()

	return nil
}

func (o *Orchestrator) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for did, connected := range o.Status() {
				o.logger.Info("publisher status", zap.String("did", did), zap.Bool("connected", connected))
			}
		}
	}
}

// Status returns a snapshot mapping DID to its connection's connected flag.
func (o *Orchestrator) Status() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := make(map[string]bool, len(o.connections))
	for did, conn := range o.connections {
		snapshot[did] = conn.Connected()
	}
	return snapshot
}

// Stop closes every Publisher Connection, the Change Watcher, and the
// downstream store handle, tolerating individual errors (spec.md §4.I).
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	o.started = false
	o.mu.Unlock()

	cancel()
	o.wg.Wait()

	var errs error
	if o.closeStore != nil {
		if err := o.closeStore(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close relational store: %w", err))
		}
	}
	if err := o.store.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close state store: %w", err))
	}

	return errs
}
