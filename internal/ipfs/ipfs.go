// Package ipfs pins report images through the IPFS HTTP API.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
)

// AddResult describes a pinned file.
type AddResult struct {
	CID string
	URL string
}

// Client uploads files to an IPFS node or pinning service.
type Client struct {
	apiURL     string // e.g. http://127.0.0.1:5001
	gatewayURL string // e.g. https://ipfs.io
	httpClient *http.Client
}

// NewClient creates an IPFS client. apiURL is the node's HTTP API address;
// gatewayURL is used to build public fetch URLs for stored content.
func NewClient(apiURL, gatewayURL string) *Client {
	return &Client{
		apiURL:     apiURL,
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Configured reports whether an API endpoint has been set. Uploads are
// skipped entirely when it hasn't.
func (c *Client) Configured() bool {
	return c != nil && c.apiURL != ""
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add uploads data under filename and returns the content ID with a
// gateway URL. The returned CID is validated before being trusted.
func (c *Client) Add(ctx context.Context, data []byte, filename string) (*AddResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("ipfs not configured")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/api/v0/add?pin=true&cid-version=1", &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs add request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipfs add returned %d: %s", resp.StatusCode, body)
	}

	var ar addResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	parsed, err := cid.Decode(ar.Hash)
	if err != nil {
		return nil, fmt.Errorf("ipfs returned invalid cid %q: %w", ar.Hash, err)
	}

	return &AddResult{
		CID: parsed.String(),
		URL: fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, parsed.String()),
	}, nil
}
