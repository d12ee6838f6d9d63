package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/courier-im/courier/internal/session"
	"go.uber.org/zap"
)

// Client talks to the courier REST service: login, conversation
// create-or-get, history pull and file upload. The framed TCP connection
// handles live traffic; everything request/response-shaped goes through
// here.
type Client struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// LoginResult is the identity returned by a successful login.
type LoginResult struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// ConversationRecord is the server's authoritative conversation state.
type ConversationRecord struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Status  string   `json:"status"`
	Members []string `json:"members"`
}

// MessageRecord is one message in a history page.
type MessageRecord struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID string `json:"conversation_id"`
	SequenceID     int64  `json:"sequence_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Body           string `json:"body"`
	Attachment     string `json:"attachment,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// MessagePage is one page of history, ascending by sequence id. HasMore
// tells the sync engine whether to fetch the next page.
type MessagePage struct {
	Items   []MessageRecord `json:"items"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
	HasMore bool            `json:"has_more"`
}

// FileMeta describes an upload.
type FileMeta struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
}

// FileRecord is the server's handle for an uploaded file.
type FileRecord struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Login exchanges credentials for a token. Does not require an
// authenticated session context.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/v1/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrGetConversation asks the server for the private conversation with
// peerID, creating it if absent. Idempotent per pair on the server side.
func (c *Client) CreateOrGetConversation(ctx context.Context, sess *session.Context, peerID string) (*ConversationRecord, error) {
	token, err := sess.Token()
	if err != nil {
		return nil, err
	}
	body := map[string]string{"peer_id": peerID}
	var out ConversationRecord
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", token, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PullMessages fetches one absolute page of conversation history.
func (c *Client) PullMessages(ctx context.Context, sess *session.Context, conversationID string, page, size int) (*MessagePage, error) {
	token, err := sess.Token()
	if err != nil {
		return nil, err
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages" +
		"?page=" + strconv.Itoa(page) + "&size=" + strconv.Itoa(size)
	var out MessagePage
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile streams file content to the server. Metadata travels in
// headers so the body stays a raw octet stream.
func (c *Client) UploadFile(ctx context.Context, sess *session.Context, content io.Reader, meta FileMeta) (*FileRecord, error) {
	token, err := sess.Token()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/files", content)
	if err != nil {
		return nil, fmt.Errorf("remote: build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-File-Name", meta.Name)
	req.Header.Set("X-File-Hash", meta.Hash)
	req.Header.Set("X-File-Content-Type", meta.ContentType)
	if meta.Size > 0 {
		req.ContentLength = meta.Size
	}

	var out FileRecord
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("remote: read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, errMessage(data)); err != nil {
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

// errMessage extracts a server-provided error string when present.
func errMessage(data []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}
