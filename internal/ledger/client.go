// Package ledger talks to the treasury transfer service that executes
// token transfers on chain. The service API is deliberately small; this
// client calls it directly rather than pulling in a chain SDK.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client executes reward transfers through the treasury service. Requests
// are signed with the treasury keypair so the service can authenticate the
// caller.
type Client struct {
	baseURL    string
	keypair    *Keypair
	httpClient *http.Client
}

// NewClient creates a treasury client for the given service URL.
func NewClient(baseURL string, keypair *Keypair) *Client {
	return &Client{
		baseURL: baseURL,
		keypair: keypair,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TreasuryAddress returns the treasury wallet address.
func (c *Client) TreasuryAddress() string {
	return c.keypair.Address()
}

type transferRequest struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference"`
}

type transferResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Transfer sends amount tokens from the treasury to wallet and returns the
// transaction signature. reference correlates the transfer with the report
// that earned it.
func (c *Client) Transfer(ctx context.Context, wallet string, amount float64, reference string) (string, error) {
	if !ValidWalletAddress(wallet) {
		return "", fmt.Errorf("invalid recipient wallet %q", wallet)
	}

	body, err := json.Marshal(transferRequest{
		From:      c.keypair.Address(),
		To:        wallet,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return "", fmt.Errorf("marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Treasury-Address", c.keypair.Address())
	req.Header.Set("X-Treasury-Signature", c.keypair.Sign(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("treasury request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("treasury returned %d: %s", resp.StatusCode, respBody)
	}

	var tr transferResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if tr.Error != "" {
		return "", fmt.Errorf("treasury error: %s", tr.Error)
	}
	if tr.Signature == "" {
		return "", fmt.Errorf("treasury returned no signature")
	}
	return tr.Signature, nil
}
