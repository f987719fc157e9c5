package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// plcResolver resolves did:plc:... identifiers against a PLC directory
// (default https://plc.directory).
type plcResolver struct {
	directoryURL string
	http         *retryablehttp.Client
}

func (p *plcResolver) resolve(ctx context.Context, did string) (Document, error) {
	url := p.directoryURL + "/" + did

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build PLC request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("PLC directory request for %s: %w", did, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("PLC directory returned %d for %s", resp.StatusCode, did)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("read PLC response for %s: %w", did, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, fmt.Errorf("parse PLC document for %s: %w", did, err)
	}
	return doc, nil
}
