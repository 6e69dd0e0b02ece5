// Package groupme pages the GroupMe v3 messages API and feeds an archive.
package groupme

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

const (
	DefaultBaseURL  = "https://api.groupme.com/v3"
	DefaultPageSize = 100
)

// Client reads a single group's message history.
type Client struct {
	BaseURL    string
	Token      string
	GroupID    string
	HTTPClient *http.Client
}

func NewClient(baseURL, token, groupID string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("groupme: token is empty")
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("groupme: group id is empty")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		GroupID:    groupID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type messagesEnvelope struct {
	Response struct {
		Count    int               `json:"count"`
		Messages []chatlog.Message `json:"messages"`
	} `json:"response"`
	Meta struct {
		Code   int      `json:"code"`
		Errors []string `json:"errors"`
	} `json:"meta"`
}

// Messages returns up to limit messages older than beforeID, newest first.
// An empty beforeID starts from the most recent message. An exhausted history
// yields an empty slice.
func (c *Client) Messages(ctx context.Context, beforeID string, limit int) ([]chatlog.Message, error) {
	q := url.Values{}
	if beforeID != "" {
		q.Set("before_id", beforeID)
	}
	return c.fetch(ctx, q, limit)
}

// MessagesAfter returns up to limit messages newer than afterID, oldest first.
func (c *Client) MessagesAfter(ctx context.Context, afterID string, limit int) ([]chatlog.Message, error) {
	if afterID == "" {
		return nil, chatlog.ErrEmptyID
	}
	q := url.Values{}
	q.Set("after_id", afterID)
	return c.fetch(ctx, q, limit)
}

func (c *Client) fetch(ctx context.Context, q url.Values, limit int) ([]chatlog.Message, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	q.Set("token", c.Token)
	q.Set("limit", strconv.Itoa(limit))
	u := fmt.Sprintf("%s/groups/%s/messages?%s", c.BaseURL, url.PathEscape(c.GroupID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "groupme: build request")
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "groupme: fetch messages")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return []chatlog.Message{}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "groupme: read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("groupme: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env messagesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "groupme: decode messages")
	}
	if env.Response.Messages == nil {
		return []chatlog.Message{}, nil
	}
	return env.Response.Messages, nil
}
