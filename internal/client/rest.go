package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"huddle/api/internal/app"
	"huddle/api/internal/search"
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s: %s", e.Status, e.Code, e.Message)
}

// REST is a thin client for the HTTP API.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *REST) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

type mutationResponse struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *REST) ListChannels(ctx context.Context) ([]app.ChannelListItem, error) {
	var items []app.ChannelListItem
	err := c.do(ctx, http.MethodGet, "/channels", nil, &items)
	return items, err
}

func (c *REST) CreateChannel(ctx context.Context, name string) (string, error) {
	var resp struct {
		ID string `json:"_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/create", map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *REST) Channel(ctx context.Context, channelID string) (app.ChannelView, error) {
	var view app.ChannelView
	err := c.do(ctx, http.MethodGet, channelPath(channelID), nil, &view)
	return view, err
}

func (c *REST) Members(ctx context.Context, channelID string) ([]app.MemberView, error) {
	var members []app.MemberView
	err := c.do(ctx, http.MethodGet, channelPath(channelID, "members"), nil, &members)
	return members, err
}

func (c *REST) IsAdmin(ctx context.Context, channelID string) (bool, error) {
	var resp struct {
		IsAdmin bool `json:"isAdmin"`
	}
	err := c.do(ctx, http.MethodGet, channelPath(channelID, "isAdmin"), nil, &resp)
	return resp.IsAdmin, err
}

func (c *REST) Messages(ctx context.Context, channelID string) ([]app.MessagePayload, error) {
	var resp struct {
		Messages []app.MessagePayload `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, channelPath(channelID, "messages"), nil, &resp)
	return resp.Messages, err
}

func (c *REST) SendMessage(ctx context.Context, channelID, content string) (app.MessagePayload, error) {
	return c.messageMutation(ctx, http.MethodPost, channelPath(channelID, "messages"), map[string]string{"content": content})
}

func (c *REST) EditMessage(ctx context.Context, channelID, messageID, content string) (app.MessagePayload, error) {
	return c.messageMutation(ctx, http.MethodPatch, channelPath(channelID, "messages", messageID), map[string]string{"content": content})
}

func (c *REST) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, channelPath(channelID, "messages", messageID), nil, nil)
}

func (c *REST) AddMember(ctx context.Context, channelID, userID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "addMember", userID), nil, nil)
}

func (c *REST) RemoveMember(ctx context.Context, channelID, userID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "removeMember", userID), nil, nil)
}

func (c *REST) MakeAdmin(ctx context.Context, channelID, userID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "makeAdmin", userID), nil, nil)
}

func (c *REST) RemoveAdmin(ctx context.Context, channelID, userID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "removeAdmin", userID), nil, nil)
}

func (c *REST) Leave(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, channelPath(channelID, "leave"), nil, nil)
}

func (c *REST) SearchUsers(ctx context.Context, query, channelID string) ([]search.Result, error) {
	params := url.Values{}
	params.Set("q", query)
	if channelID != "" {
		params.Set("channelId", channelID)
	}
	var resp struct {
		Users []search.Result `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/search/users?"+params.Encode(), nil, &resp)
	return resp.Users, err
}

func (c *REST) messageMutation(ctx context.Context, method, path string, body any) (app.MessagePayload, error) {
	var resp mutationResponse
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return app.MessagePayload{}, err
	}
	var msg app.MessagePayload
	if err := json.Unmarshal(resp.Data, &msg); err != nil {
		return app.MessagePayload{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, nil
}

func (c *REST) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = string(raw)
		}
		return apiErr
	}
	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func channelPath(channelID string, rest ...string) string {
	path := "/channels/" + url.PathEscape(channelID)
	for _, part := range rest {
		path += "/" + url.PathEscape(part)
	}
	return path
}
