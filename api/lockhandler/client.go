package lockhandler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keywarden/keywarden/interfaces"
)

// Client is an HTTP client for a remote cooperator's lock API. It implements
// interfaces.LockService, so the custody engine can be pointed at either a
// remote cooperator or an in-process one without changing code.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a lock API client.
//
// Parameters:
//   - baseURL: The base URL of the cooperator (e.g., "http://localhost:8080")
//   - timeout: Request timeout duration (optional, default 30 seconds)
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// ApplyLock sends a blinded value to the cooperator and returns the
// double-locked value together with the key id the cooperator used.
func (c *Client) ApplyLock(ctx context.Context, blinded []byte) ([]byte, interfaces.KeyID, error) {
	req := ApplyRequest{BlindedValue: hex.EncodeToString(blinded)}

	var resp ApplyResponse
	if err := c.post(ctx, "/api/lock/apply", req, &resp); err != nil {
		return nil, "", err
	}

	doubleBlinded, err := hex.DecodeString(resp.DoubleBlindedValue)
	if err != nil {
		return nil, "", fmt.Errorf("invalid double-blinded value in response: %w", err)
	}

	return doubleBlinded, interfaces.KeyID(resp.KeyID), nil
}

// RemoveLock asks the cooperator to remove the lock named by keyID. A 404
// from the cooperator maps to ErrUnknownKeyID so callers can fall back to
// their recovery path.
func (c *Client) RemoveLock(ctx context.Context, blinded []byte, keyID interfaces.KeyID) ([]byte, error) {
	req := RemoveRequest{
		BlindedValue: hex.EncodeToString(blinded),
		KeyID:        string(keyID),
	}

	var resp RemoveResponse
	if err := c.post(ctx, "/api/lock/remove", req, &resp); err != nil {
		return nil, err
	}

	value, err := hex.DecodeString(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value in response: %w", err)
	}

	return value, nil
}

// KeyInfo fetches the cooperator's current key id, modulus and grace list.
func (c *Client) KeyInfo(ctx context.Context) (interfaces.KeyInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/lock/key-info", nil)
	if err != nil {
		return interfaces.KeyInfo{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return interfaces.KeyInfo{}, fmt.Errorf("key info request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return interfaces.KeyInfo{}, fmt.Errorf("key info request failed with code %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp KeyInfoResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return interfaces.KeyInfo{}, fmt.Errorf("failed to parse key info response: %w", err)
	}

	modulus, err := hex.DecodeString(resp.Modulus)
	if err != nil {
		return interfaces.KeyInfo{}, fmt.Errorf("invalid modulus in response: %w", err)
	}

	info := interfaces.KeyInfo{
		CurrentKeyID: interfaces.KeyID(resp.CurrentKeyID),
		Modulus:      modulus,
		GraceKeyIDs:  make([]interfaces.KeyID, 0, len(resp.GraceKeyIDs)),
	}
	for _, id := range resp.GraceKeyIDs {
		info.GraceKeyIDs = append(info.GraceKeyIDs, interfaces.KeyID(id))
	}

	return info, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNotFound {
		return interfaces.ErrUnknownKeyID
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("request to %s failed with code %d: %s", path, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}

	return nil
}
