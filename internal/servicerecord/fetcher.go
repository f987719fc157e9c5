// Package servicerecord fetches a labeler's declared label values from its
// own repository record (spec.md §4.C).
package servicerecord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/identity"
	"github.com/arc-self/muncher/internal/statestore"
)

// Fetcher retrieves and caches a labeler's app.bsky.labeler.service record.
type Fetcher struct {
	resolver *identity.Resolver
	http     *retryablehttp.Client
	store    *statestore.Store
	logger   *zap.Logger
}

// New builds a Fetcher bound to the given resolver, HTTP client, and store.
func New(resolver *identity.Resolver, httpClient *retryablehttp.Client, store *statestore.Store, logger *zap.Logger) *Fetcher {
	return &Fetcher{resolver: resolver, http: httpClient, store: store, logger: logger}
}

type getRecordResponse struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type labelerServiceValue struct {
	Policies *labelerPolicies `json:"policies"`
}

type labelerPolicies struct {
	LabelValues []string `json:"labelValues"`
}

// Fetch resolves did's PDS, retrieves its app.bsky.labeler.service record,
// and caches the declared label values into the State Store. It never
// returns an error past this boundary: failures are logged and reported
// via the boolean return, matching "returns null on any failure" in
// spec.md §4.C.
func (f *Fetcher) Fetch(ctx context.Context, did string) ([]string, bool) {
	values, err := f.fetch(ctx, did)
	if err != nil {
		f.logger.Warn("service record fetch failed",
			zap.String("did", did),
			zap.Error(err),
		)
		return nil, false
	}

	if err := f.store.SetService(ctx, did, values); err != nil {
		f.logger.Error("failed to cache service record",
			zap.String("did", did),
			zap.Error(err),
		)
	}

	return values, true
}

func (f *Fetcher) fetch(ctx context.Context, did string) ([]string, error) {
	doc, err := f.resolver.Resolve(ctx, did, false)
	if err != nil {
		return nil, fmt.Errorf("resolve identity for %s: %w", did, err)
	}

	pds, err := identity.PDSEndpoint(doc)
	if err != nil {
		return nil, fmt.Errorf("resolve PDS for %s: %w", did, err)
	}

	q := url.Values{}
	q.Set("repo", did)
	q.Set("collection", "app.bsky.labeler.service")
	q.Set("rkey", "self")
	reqURL := pds + "/xrpc/com.atproto.repo.getRecord?" + q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build getRecord request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getRecord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getRecord returned %d", resp.StatusCode)
	}

	var record getRecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode getRecord response: %w", err)
	}

	var value labelerServiceValue
	if err := json.Unmarshal(record.Value, &value); err != nil {
		return nil, fmt.Errorf("decode labeler service record: %w", err)
	}

	if value.Policies == nil {
		return []string{}, nil
	}
	return value.Policies.LabelValues, nil
}
