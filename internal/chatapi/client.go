// Package chatapi is the REST client for the chat aggregation platform.
package chatapi

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

	"github.com/matheus3301/mirror/internal/source"
)

// Client talks to the chat platform's JSON API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. A nil httpClient selects a client with a 30s timeout.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

var _ source.ChatSource = (*Client)(nil)

type chatJSON struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Network      string    `json:"network"`
	AccountID    string    `json:"account_id"`
	Handle       string    `json:"handle"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	LastActivity time.Time `json:"last_activity"`
	UnreadCount  int       `json:"unread_count"`
	Archived     bool      `json:"archived"`
	Muted        bool      `json:"muted"`
	Pinned       bool      `json:"pinned"`
	Blocked      bool      `json:"blocked"`
}

type chatListJSON struct {
	Items   []chatJSON `json:"items"`
	Cursors struct {
		Newest string `json:"newest"`
		Oldest string `json:"oldest"`
	} `json:"cursors"`
}

type attachmentJSON struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

type reactionJSON struct {
	SenderID string `json:"sender_id"`
	Emoji    string `json:"emoji"`
}

type messageJSON struct {
	ID          string           `json:"id"`
	ChatID      string           `json:"chat_id"`
	SenderID    string           `json:"sender_id"`
	SenderName  string           `json:"sender_name"`
	Text        string           `json:"text"`
	Timestamp   time.Time        `json:"timestamp"`
	SortKey     string           `json:"sort_key"`
	IsSender    bool             `json:"is_sender"`
	PendingID   string           `json:"pending_message_id"`
	Attachments []attachmentJSON `json:"attachments"`
	Reactions   []reactionJSON   `json:"reactions"`
}

type messageListJSON struct {
	Items   []messageJSON `json:"items"`
	HasMore bool          `json:"has_more"`
}

// ListChats lists one page of chats from cursor in direction dir.
func (c *Client) ListChats(ctx context.Context, cursor string, dir source.Direction) (*source.ChatPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
		q.Set("direction", string(dir))
	}
	var out chatListJSON
	if err := c.do(ctx, "list chats", http.MethodGet, "/v1/chats", q, nil, &out); err != nil {
		return nil, err
	}
	page := &source.ChatPage{
		Items:        make([]source.ChatSummary, 0, len(out.Items)),
		NewestCursor: out.Cursors.Newest,
		OldestCursor: out.Cursors.Oldest,
	}
	for _, ch := range out.Items {
		kind := "single"
		if ch.Type == "group" {
			kind = "group"
		}
		page.Items = append(page.Items, source.ChatSummary{
			ID:           ch.ID,
			Kind:         kind,
			Title:        ch.Title,
			Network:      ch.Network,
			AccountID:    ch.AccountID,
			Handle:       ch.Handle,
			Phone:        ch.Phone,
			Email:        ch.Email,
			LastActivity: ch.LastActivity,
			UnreadCount:  ch.UnreadCount,
			Archived:     ch.Archived,
			Muted:        ch.Muted,
			Pinned:       ch.Pinned,
			Blocked:      ch.Blocked,
		})
	}
	return page, nil
}

// ListMessages lists one page of a chat's messages.
func (c *Client) ListMessages(ctx context.Context, mq source.MessageQuery) (*source.MessagePage, error) {
	q := url.Values{}
	if mq.Cursor != "" {
		q.Set("cursor", mq.Cursor)
	}
	if mq.Direction != "" {
		q.Set("direction", string(mq.Direction))
	}
	if mq.Limit > 0 {
		q.Set("limit", strconv.Itoa(mq.Limit))
	}
	var out messageListJSON
	path := "/v1/chats/" + url.PathEscape(mq.ChatID) + "/messages"
	if err := c.do(ctx, "list messages", http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	page := &source.MessagePage{Items: make([]source.RemoteMessage, 0, len(out.Items)), HasMore: out.HasMore}
	for _, m := range out.Items {
		msg := source.RemoteMessage{
			ID:         m.ID,
			ChatID:     mq.ChatID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Text:       m.Text,
			Timestamp:  m.Timestamp,
			SortKey:    m.SortKey,
			FromMe:     m.IsSender,
			PendingID:  m.PendingID,
		}
		for _, a := range m.Attachments {
			msg.Attachments = append(msg.Attachments, source.Attachment(a))
		}
		for _, r := range m.Reactions {
			msg.Reactions = append(msg.Reactions, source.Reaction(r))
		}
		page.Items = append(page.Items, msg)
	}
	return page, nil
}

// SendMessage sends text to a chat and returns the pending message ID.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	body := map[string]string{"text": text}
	var out struct {
		PendingID string `json:"pending_message_id"`
	}
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.do(ctx, "send message", http.MethodPost, path, nil, body, &out); err != nil {
		return "", err
	}
	if out.PendingID == "" {
		return "", &source.TransportError{Op: "send message", Message: "response has no pending_message_id"}
	}
	return out.PendingID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return &source.TransportError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &source.TransportError{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &source.TransportError{Op: op, Status: resp.StatusCode, Message: errorMessage(msg, resp.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &source.TransportError{Op: op, Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// errorMessage extracts {"message": "..."} or {"error": "..."} from an error body.
func errorMessage(body []byte, fallback string) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
