// Package gatherly provides the official Go SDK for the Gatherly API.
//
// The SDK's core is the real-time conversation layer: a single push
// channel connection (ChannelClient), a typed event fan-out (Dispatcher),
// and a per-conversation Synchronizer that reconciles historical loads,
// live events, and local mutations into one ordered timeline.
//
// Example:
//
//	client := gatherly.NewClient("gat-token-...")
//	dispatcher := gatherly.NewDispatcher()
//	channel := client.Channel(dispatcher, nil)
//	_ = channel.Connect(ctx)
//
//	sync := gatherly.NewSynchronizer(client.SyncAPI(), client.PollAggregator(),
//		channel, userID, gatherly.Topic{Kind: gatherly.TopicDM, ID: 7})
//	sync.Open(ctx)
//	_ = sync.LoadMessages(ctx, false)
package gatherly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.gatherly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the Gatherly REST client. Sub-clients group the API surface;
// the push channel and synchronizer are created through Channel and
// SyncAPI.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	Conversations *ConversationsClient
	Groups        *GroupsClient
	Messages      *MessagesClient
	Polls         *PollsClient
	Presence      *PresenceClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Gatherly client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Conversations = &ConversationsClient{c: c}
	c.Groups = &GroupsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Polls = &PollsClient{c: c}
	c.Presence = &PresenceClient{c: c}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Channel creates the push channel client bound to this client's base URL.
// The config's token defaults to the client's token.
func (c *Client) Channel(dispatcher *Dispatcher, config *ChannelConfig) *ChannelClient {
	cfg := ChannelConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	return NewChannelClient(c.baseURL, dispatcher, &cfg)
}

// SyncAPI returns the conversation surface the Synchronizer drives,
// routing DM topics to the conversation endpoints and group topics to the
// group endpoints.
func (c *Client) SyncAPI() ConversationAPI {
	return &syncAPI{c: c}
}

// PollAggregator returns a vote aggregator backed by this client.
func (c *Client) PollAggregator() *PollVoteAggregator {
	return NewPollVoteAggregator(c.Polls, nil)
}

// ============================================================================
// Internal request helpers
// ============================================================================

// APIResult is the generic API response envelope.
type APIResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var result APIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// resultData unwraps the envelope into a typed value, converting API-level
// failures into errors.
func resultData[T any](res *APIResult) (*T, error) {
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("request failed")
	}
	var v T
	if res.Data != nil {
		if err := json.Unmarshal(res.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}
	return &v, nil
}

func resultErr(res *APIResult) error {
	if res.OK {
		return nil
	}
	if res.Error != nil {
		return res.Error
	}
	return fmt.Errorf("request failed")
}

func id64(n int64) string {
	return strconv.FormatInt(n, 10)
}

func sendBody(content string, userID int64, msgType MessageType, replyToID int64) map[string]interface{} {
	body := map[string]interface{}{
		"content":     content,
		"userId":      userID,
		"messageType": msgType,
	}
	if replyToID != 0 {
		body["replyToId"] = replyToID
	}
	return body
}

// ============================================================================
// Sub-clients
// ============================================================================

// ConversationsClient covers direct-message conversations.
type ConversationsClient struct{ c *Client }

// History fetches the historical message page for a conversation.
func (cv *ConversationsClient) History(ctx context.Context, conversationID, userID int64) ([]Message, error) {
	res, err := cv.c.do(ctx, "GET", "/api/conversations/"+id64(conversationID)+"/messages", nil,
		map[string]string{"userId": id64(userID)})
	if err != nil {
		return nil, err
	}
	msgs, err := resultData[[]Message](res)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// Send posts a new message to a conversation.
func (cv *ConversationsClient) Send(ctx context.Context, conversationID int64, content string, userID int64, msgType MessageType, replyToID int64) (*Message, error) {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/"+id64(conversationID)+"/messages",
		sendBody(content, userID, msgType, replyToID), nil)
	if err != nil {
		return nil, err
	}
	return resultData[Message](res)
}

// MarkRead records that the user has read the conversation.
func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID, userID int64) error {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/"+id64(conversationID)+"/read",
		map[string]interface{}{"userId": userID}, nil)
	if err != nil {
		return err
	}
	return resultErr(res)
}

// GroupsClient covers group channels.
type GroupsClient struct{ c *Client }

// Get fetches a group descriptor.
func (g *GroupsClient) Get(ctx context.Context, groupID int64) (*Group, error) {
	res, err := g.c.do(ctx, "GET", "/api/groups/"+id64(groupID), nil, nil)
	if err != nil {
		return nil, err
	}
	return resultData[Group](res)
}

// History fetches the historical message page for a group.
func (g *GroupsClient) History(ctx context.Context, groupID, userID int64) ([]Message, error) {
	res, err := g.c.do(ctx, "GET", "/api/groups/"+id64(groupID)+"/messages", nil,
		map[string]string{"userId": id64(userID)})
	if err != nil {
		return nil, err
	}
	msgs, err := resultData[[]Message](res)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// Send posts a new message to a group.
func (g *GroupsClient) Send(ctx context.Context, groupID int64, content string, userID int64, msgType MessageType, replyToID int64) (*Message, error) {
	res, err := g.c.do(ctx, "POST", "/api/groups/"+id64(groupID)+"/messages",
		sendBody(content, userID, msgType, replyToID), nil)
	if err != nil {
		return nil, err
	}
	return resultData[Message](res)
}

// MarkRead records that the user has read the group channel.
func (g *GroupsClient) MarkRead(ctx context.Context, groupID, userID int64) error {
	res, err := g.c.do(ctx, "POST", "/api/groups/"+id64(groupID)+"/read",
		map[string]interface{}{"userId": userID}, nil)
	if err != nil {
		return err
	}
	return resultErr(res)
}

// MessagesClient covers operations addressed by message id.
type MessagesClient struct{ c *Client }

// Update edits a message's content and returns the server representation.
func (m *MessagesClient) Update(ctx context.Context, messageID int64, content string, userID int64) (*Message, error) {
	res, err := m.c.do(ctx, "PATCH", "/api/messages/"+id64(messageID),
		map[string]interface{}{"content": content, "userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	return resultData[Message](res)
}

// Delete soft-deletes a message and returns its tombstoned representation.
func (m *MessagesClient) Delete(ctx context.Context, messageID, userID int64) (*Message, error) {
	res, err := m.c.do(ctx, "DELETE", "/api/messages/"+id64(messageID), nil,
		map[string]string{"userId": id64(userID)})
	if err != nil {
		return nil, err
	}
	return resultData[Message](res)
}

// PollsClient covers poll vote state for poll-encoded messages.
type PollsClient struct{ c *Client }

// Votes fetches the tallies and the user's own vote set for a poll message.
func (p *PollsClient) Votes(ctx context.Context, messageID, userID int64) (*PollVotes, error) {
	res, err := p.c.do(ctx, "GET", "/api/messages/"+id64(messageID)+"/votes", nil,
		map[string]string{"userId": id64(userID)})
	if err != nil {
		return nil, err
	}
	return resultData[PollVotes](res)
}

// Vote casts the user's vote for an option.
func (p *PollsClient) Vote(ctx context.Context, messageID int64, option string, userID int64) (*PollVotes, error) {
	res, err := p.c.do(ctx, "POST", "/api/messages/"+id64(messageID)+"/votes",
		map[string]interface{}{"option": option, "userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	return resultData[PollVotes](res)
}

// Unvote withdraws the user's vote for an option.
func (p *PollsClient) Unvote(ctx context.Context, messageID int64, option string, userID int64) (*PollVotes, error) {
	res, err := p.c.do(ctx, "DELETE", "/api/messages/"+id64(messageID)+"/votes", nil,
		map[string]string{"option": option, "userId": id64(userID)})
	if err != nil {
		return nil, err
	}
	return resultData[PollVotes](res)
}

// PresenceClient announces user status.
type PresenceClient struct{ c *Client }

// UpdateStatus reports the user's current status.
func (p *PresenceClient) UpdateStatus(ctx context.Context, userID int64, status string) error {
	res, err := p.c.do(ctx, "PUT", "/api/users/"+id64(userID)+"/status",
		map[string]interface{}{"status": status}, nil)
	if err != nil {
		return err
	}
	return resultErr(res)
}

// ============================================================================
// Synchronizer routing
// ============================================================================

// syncAPI adapts the sub-clients to the ConversationAPI the synchronizer
// consumes, selecting DM or group endpoints by topic kind.
type syncAPI struct{ c *Client }

func (s *syncAPI) History(ctx context.Context, topic Topic, userID int64) ([]Message, error) {
	if topic.Kind == TopicGroup {
		return s.c.Groups.History(ctx, topic.ID, userID)
	}
	return s.c.Conversations.History(ctx, topic.ID, userID)
}

func (s *syncAPI) Send(ctx context.Context, topic Topic, content string, userID int64, msgType MessageType, replyToID int64) (*Message, error) {
	if topic.Kind == TopicGroup {
		return s.c.Groups.Send(ctx, topic.ID, content, userID, msgType, replyToID)
	}
	return s.c.Conversations.Send(ctx, topic.ID, content, userID, msgType, replyToID)
}

func (s *syncAPI) Update(ctx context.Context, messageID int64, content string, userID int64) (*Message, error) {
	return s.c.Messages.Update(ctx, messageID, content, userID)
}

func (s *syncAPI) Delete(ctx context.Context, messageID, userID int64) (*Message, error) {
	return s.c.Messages.Delete(ctx, messageID, userID)
}

func (s *syncAPI) MarkRead(ctx context.Context, topic Topic, userID int64) error {
	if topic.Kind == TopicGroup {
		return s.c.Groups.MarkRead(ctx, topic.ID, userID)
	}
	return s.c.Conversations.MarkRead(ctx, topic.ID, userID)
}
