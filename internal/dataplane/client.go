// Package dataplane implements the downstream moderation RPC client the
// original spec treats as an external collaborator with four methods
// (spec.md §1, §4.F). SPEC_FULL.md binds it concretely to an XRPC-style
// HTTP client round-robining across configured hosts, speaking either
// HTTP/1.1 or HTTP/2 per §6's "Dataplane HTTP version" configuration key.
package dataplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

// Client is the four-method contract spec.md §4.F dispatches against.
type Client interface {
	TakedownActor(ctx context.Context, did, ref string, seen time.Time) error
	UntakedownActor(ctx context.Context, did string, seen time.Time) error
	TakedownRecord(ctx context.Context, recordURI, ref string, seen time.Time) error
	UntakedownRecord(ctx context.Context, recordURI string, seen time.Time) error
}

// HTTPClient round-robins requests across hosts. RPC failures are the
// caller's responsibility to swallow (spec.md §4.F: "RPC failures are
// logged and swallowed") — this client just returns the error.
type HTTPClient struct {
	hosts      []string
	next       uint64
	httpClient *http.Client
}

// New builds an HTTPClient. httpVersion must be "1.1" or "2" (validated at
// startup per spec.md §6: "Invalid values ... must abort startup" — the
// caller, internal/config, is responsible for surfacing that as a fatal
// config error before this constructor is ever reached).
func New(hosts []string, httpVersion string) (*HTTPClient, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("dataplane: at least one host is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	switch httpVersion {
	case "1.1":
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	case "2":
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configure HTTP/2 transport: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dataplane HTTP version %q", httpVersion)
	}

	return &HTTPClient{
		hosts:      hosts,
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}, nil
}

func (c *HTTPClient) host() string {
	n := atomic.AddUint64(&c.next, 1)
	return c.hosts[int(n-1)%len(c.hosts)]
}

type subjectStatusRequest struct {
	Subject  subject   `json:"subject"`
	Takedown *takedown `json:"takedown,omitempty"`
}

type subject struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type takedown struct {
	Applied bool      `json:"applied"`
	Ref     string    `json:"ref,omitempty"`
	Seen    time.Time `json:"seen"`
}

func (c *HTTPClient) call(ctx context.Context, body subjectStatusRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal dataplane request: %w", err)
	}

	url := c.host() + "/xrpc/com.atproto.admin.updateSubjectStatus"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build dataplane request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dataplane request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dataplane returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) TakedownActor(ctx context.Context, did, ref string, seen time.Time) error {
	return c.call(ctx, subjectStatusRequest{
		Subject:  subject{Type: "com.atproto.admin.defs#repoRef", DID: did},
		Takedown: &takedown{Applied: true, Ref: ref, Seen: seen},
	})
}

func (c *HTTPClient) UntakedownActor(ctx context.Context, did string, seen time.Time) error {
	return c.call(ctx, subjectStatusRequest{
		Subject:  subject{Type: "com.atproto.admin.defs#repoRef", DID: did},
		Takedown: &takedown{Applied: false, Seen: seen},
	})
}

func (c *HTTPClient) TakedownRecord(ctx context.Context, recordURI, ref string, seen time.Time) error {
	return c.call(ctx, subjectStatusRequest{
		Subject:  subject{Type: "com.atproto.repo.strongRef", URI: recordURI},
		Takedown: &takedown{Applied: true, Ref: ref, Seen: seen},
	})
}

func (c *HTTPClient) UntakedownRecord(ctx context.Context, recordURI string, seen time.Time) error {
	return c.call(ctx, subjectStatusRequest{
		Subject:  subject{Type: "com.atproto.repo.strongRef", URI: recordURI},
		Takedown: &takedown{Applied: false, Seen: seen},
	})
}
