// Package client talks to the chat-archive data service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
)

// ErrNotFound aliases the store sentinel so callers can check either.
var ErrNotFound = chatlog.ErrNotFound

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat-archive: http %d", e.Code)
	}
	return fmt.Sprintf("chat-archive: http %d: %s", e.Code, e.Message)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

func New(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "client: parse base url")
	}
	return &Client{BaseURL: baseURL, HTTPClient: http.DefaultClient, Dialer: websocket.DefaultDialer}, nil
}

// Search returns the ranked matches for q. An empty q is sent as-is.
func (c *Client) Search(ctx context.Context, q string, limit int) ([]chatlog.Message, error) {
	v := url.Values{}
	v.Set("q", q)
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var out []chatlog.Message
	if err := c.get(ctx, "/search", v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Window returns id with up to before older and after newer neighbours.
func (c *Client) Window(ctx context.Context, id string, before, after int) (chatlog.Window, error) {
	if id == "" {
		return chatlog.Window{}, chatlog.ErrEmptyID
	}
	v := url.Values{}
	v.Set("before", strconv.Itoa(before))
	v.Set("after", strconv.Itoa(after))
	var out chatlog.Window
	if err := c.get(ctx, "/messages/"+url.PathEscape(id), v, &out); err != nil {
		return chatlog.Window{}, err
	}
	return out, nil
}

// Before returns messages older than id, nearest first.
func (c *Client) Before(ctx context.Context, id string, limit int) ([]chatlog.Message, error) {
	return c.page(ctx, id, "before", limit)
}

// After returns messages newer than id, nearest first.
func (c *Client) After(ctx context.Context, id string, limit int) ([]chatlog.Message, error) {
	return c.page(ctx, id, "after", limit)
}

func (c *Client) page(ctx context.Context, id, dir string, limit int) ([]chatlog.Message, error) {
	if id == "" {
		return nil, chatlog.ErrEmptyID
	}
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var out []chatlog.Message
	if err := c.get(ctx, "/messages/"+url.PathEscape(id)+"/"+dir, v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "client: build request")
	}
	req.Header.Set("Accept", "application/json")
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "client: GET %s", path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "client: decode %s", path)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// Follow dials the live feed. The channel is closed when ctx is done or the
// connection drops.
func (c *Client) Follow(ctx context.Context) (<-chan chatlog.Message, error) {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "client: dial live feed")
	}

	out := make(chan chatlog.Message, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var m chatlog.Message
			if err := conn.ReadJSON(&m); err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("live feed closed")
				}
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
