package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"carelink-backend/internal/domain"
)

// APIClient talks to the call-service REST API on the station's behalf.
// It satisfies the machine's ChatHistory dependency and resolves the
// conversation membership used on locally created sessions.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient creates a client for the given base URL using a bearer token
// minted for the station's service identity.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// dataEnvelope mirrors the API's {"data": ...} response wrapper.
type dataEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope dataEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("unexpected response from %s %s: status %d", method, path, resp.StatusCode)
		}
	}
	if resp.StatusCode >= 400 {
		if envelope.Error != nil {
			return fmt.Errorf("api error %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("api returned status %d for %s %s", resp.StatusCode, method, path)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// AppendSystemMessage posts a call lifecycle message into the conversation
// transcript via the messages endpoint.
func (c *APIClient) AppendSystemMessage(ctx context.Context, conversationID uuid.UUID, body string) error {
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	return c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil)
}

// Conversation fetches one conversation the station is a member of.
func (c *APIClient) Conversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	path := fmt.Sprintf("/api/v1/conversations/%s", id)
	if err := c.do(ctx, http.MethodGet, path, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}
