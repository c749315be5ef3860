package kickapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultAuthURL = "https://id.kick.com/oauth/token"
	defaultAPIBase = "https://api.kick.com/public/v1"

	requestTimeout = 15 * time.Second
	// refresh the cached app token this long before it actually expires
	expiryMargin = time.Minute
)

// ErrMissingCredentials is returned when the client has no client id/secret
// to authenticate with. Callers treat it as "this platform stays inert".
var ErrMissingCredentials = errors.New("kickapi: client id and secret are required")

// Channel is the resolved lookup result for a channel slug.
type Channel struct {
	ChannelID     string
	ChatroomID    string
	FollowerCount int
}

// Client talks to Kick's public API: a client-credentials app token, cached
// with an expiry margin, and the channel lookup the hybrid connector uses to
// resolve a slug into ids and a follower count.
type Client struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	APIBase      string
	HTTP         *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func New(clientID, clientSecret string) *Client {
	return &Client{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: requestTimeout}
}

func (c *Client) authURL() string {
	if strings.TrimSpace(c.AuthURL) != "" {
		return c.AuthURL
	}
	return defaultAuthURL
}

func (c *Client) apiBase() string {
	if strings.TrimSpace(c.APIBase) != "" {
		return strings.TrimRight(c.APIBase, "/")
	}
	return defaultAPIBase
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AppAccessToken returns the cached app token, fetching a fresh one when the
// cache is empty or within the expiry margin.
func (c *Client) AppAccessToken(ctx context.Context) (string, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.expiresAt.Add(-expiryMargin)) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	log.Printf("kickapi: fetching new app access token")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("scope", "channel:read")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "kickapi: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", errors.Wrap(err, "kickapi: token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", errors.Wrap(err, "kickapi: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("kickapi: token status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "kickapi: decode token response")
	}
	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return "", errors.New("kickapi: token response missing access_token")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	c.mu.Lock()
	c.token = token
	c.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.mu.Unlock()

	return token, nil
}

// InvalidateToken clears the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// channelPayload covers the two shapes the public API has been seen to
// return: a bare channel object and a JSON:API style data wrapper (which may
// itself be an object or a one-element array).
type channelPayload struct {
	channelFields
	Data json.RawMessage `json:"data"`
}

type channelFields struct {
	ID             json.Number `json:"id"`
	BroadcasterID  json.Number `json:"broadcaster_user_id"`
	FollowersCount int         `json:"followers_count"`
	Chatroom       struct {
		ID json.Number `json:"id"`
	} `json:"chatroom"`
	ChatroomID json.Number `json:"chatroom_id"`
}

// Channel resolves a channel slug to its numeric ids and follower count.
// Any non-2xx response is an error; the connector treats that as
// "unresolved this tick, retry next tick".
func (c *Client) Channel(ctx context.Context, slug string) (Channel, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Channel{}, errors.New("kickapi: empty channel slug")
	}

	token, err := c.AppAccessToken(ctx)
	if err != nil {
		return Channel{}, err
	}

	endpoint := c.apiBase() + "/channels/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Channel{}, errors.Wrap(err, "kickapi: create channel request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Channel{}, errors.Wrap(err, "kickapi: channel request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.InvalidateToken()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Channel{}, errors.Wrap(err, "kickapi: read channel response")
	}
	if resp.StatusCode != http.StatusOK {
		return Channel{}, errors.Errorf("kickapi: channel status %d for %s", resp.StatusCode, slug)
	}

	var payload channelPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Channel{}, errors.Wrap(err, "kickapi: decode channel response")
	}

	fields := payload.channelFields
	if len(payload.Data) > 0 {
		var wrapped channelFields
		if err := json.Unmarshal(payload.Data, &wrapped); err == nil {
			fields = wrapped
		} else {
			var list []channelFields
			if err := json.Unmarshal(payload.Data, &list); err == nil && len(list) > 0 {
				fields = list[0]
			}
		}
	}

	ch := Channel{
		ChannelID:     fields.ID.String(),
		ChatroomID:    fields.Chatroom.ID.String(),
		FollowerCount: fields.FollowersCount,
	}
	if ch.ChannelID == "" || ch.ChannelID == "0" {
		ch.ChannelID = fields.BroadcasterID.String()
	}
	if ch.ChatroomID == "" || ch.ChatroomID == "0" {
		ch.ChatroomID = fields.ChatroomID.String()
	}
	if ch.ChannelID == "" || ch.ChannelID == "0" {
		return Channel{}, errors.Errorf("kickapi: channel id missing in response for %s", slug)
	}
	if ch.ChatroomID == "0" {
		ch.ChatroomID = ""
	}
	return ch, nil
}
