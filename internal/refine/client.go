// Package refine は精製サービスへの送信クライアント
package refine

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// truncateAt bounds how much of an error body is carried into logs.
const truncateAt = 200

// Client は精製サービスクライアント
type Client struct {
	baseURL   string
	refinerID uint64
	envVars   map[string]string
	http      *http.Client
}

// NewClient は新しいクライアントを作成。envVarsは精製サービスが
// ストレージ側チャネルで使う資格情報で、リクエストにそのまま載せる。
func NewClient(baseURL string, refinerID uint64, envVars map[string]string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		refinerID: refinerID,
		envVars:   envVars,
		// No explicit timeout: a stalled call blocks only its own file,
		// bounded by transport defaults.
		http: &http.Client{},
	}
}

type refineRequest struct {
	FileID        uint64            `json:"file_id"`
	EncryptionKey string            `json:"encryption_key"`
	RefinerID     uint64            `json:"refiner_id"`
	EnvVars       map[string]string `json:"env_vars"`
}

type refineResponse struct {
	CID string `json:"cid"`
}

// Refine submits one decrypted content key for refinement and returns the
// content identifier from the service. One POST, no retry.
func (c *Client) Refine(ctx context.Context, fileID uint64, key []byte) (string, error) {
	body, err := json.Marshal(refineRequest{
		FileID:        fileID,
		EncryptionKey: "0x" + hex.EncodeToString(key),
		RefinerID:     c.refinerID,
		EnvVars:       c.envVars,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refine", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refinement request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("refinement service returned %d: %s", resp.StatusCode, truncate(raw))
	}

	var parsed refineResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w: %s", err, truncate(raw))
	}
	if parsed.CID == "" {
		return "", fmt.Errorf("response missing cid: %s", truncate(raw))
	}
	return parsed.CID, nil
}

// truncate はログへ載せる応答本文を切り詰める
func truncate(b []byte) string {
	if len(b) > truncateAt {
		return string(b[:truncateAt]) + "..."
	}
	return string(b)
}
