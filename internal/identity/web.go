package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// webResolver resolves did:web:... identifiers per the did:web method:
// did:web:example.com               -> https://example.com/.well-known/did.json
// did:web:example.com:user:alice    -> https://example.com/user/alice/did.json
type webResolver struct {
	http *retryablehttp.Client
}

func (w *webResolver) resolve(ctx context.Context, did string) (Document, error) {
	docURL, err := didWebToURL(did)
	if err != nil {
		return Document{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build did:web request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("did:web request for %s: %w", did, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("did:web host returned %d for %s", resp.StatusCode, did)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("read did:web response for %s: %w", did, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, fmt.Errorf("parse did:web document for %s: %w", did, err)
	}
	return doc, nil
}

func didWebToURL(did string) (string, error) {
	const prefix = "did:web:"
	if !strings.HasPrefix(did, prefix) {
		return "", fmt.Errorf("not a did:web identifier: %s", did)
	}
	id := strings.TrimPrefix(did, prefix)
	if id == "" {
		return "", fmt.Errorf("empty did:web identifier")
	}

	segments := strings.Split(id, ":")
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("decode did:web segment %q: %w", seg, err)
		}
		segments[i] = decoded
	}

	host := segments[0]
	if len(segments) == 1 {
		return fmt.Sprintf("https://%s/.well-known/did.json", host), nil
	}
	return fmt.Sprintf("https://%s/%s/did.json", host, strings.Join(segments[1:], "/")), nil
}
