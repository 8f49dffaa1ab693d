// Package cloud talks to the Tile account API: it logs in with the user's
// credentials and returns the tile IDs and 16-byte auth keys the BLE core
// needs. It is the upstream collaborator at its interface boundary; nothing
// here touches the radio.
package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Fixed client identity the production API expects. Lifted from the Android
// app's traffic; the API rejects sessions without them.
const (
	DefaultBaseURL = "https://production.tile-api.com/api/v1"

	appID      = "android-tile-production"
	appVersion = "2.109.0.4485"
	clientUUID = "26726553-703b-3998-9f0e-c5f256caaf6d"
)

// AuthError reports rejected credentials or a missing session.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "cloud: authentication: " + e.Reason
}

// APIError reports any other API failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: api returned %d: %s", e.Status, e.Body)
}

// Tile is one tracker known to the account.
type Tile struct {
	ID          string
	Name        string
	ProductCode string
	AuthKey     []byte
}

// Client is a session-cookie-authenticated Tile API client.
type Client struct {
	http    *http.Client
	baseURL string

	email    string
	password string
	cookie   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient builds an unauthenticated client; call Login before Tiles.
func NewClient(email, password string, opts ...ClientOption) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  DefaultBaseURL,
		email:    email,
		password: password,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) headers(req *http.Request, withSession bool) {
	req.Header.Set("User-Agent", fmt.Sprintf("Tile/android/%s (Unknown; Android11)", appVersion))
	req.Header.Set("tile_app_id", appID)
	req.Header.Set("tile_app_version", appVersion)
	req.Header.Set("tile_client_uuid", clientUUID)
	req.Header.Set("tile_request_timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if withSession && c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}

// Login opens an API session. The session cookie is held on the client.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("email", c.email)
	form.Set("password", c.password)

	endpoint := fmt.Sprintf("%s/clients/%s/sessions", c.baseURL, clientUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "cloud: building login request")
	}
	c.headers(req, false)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "cloud: login request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Reason: "invalid email or password"}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return &APIError{Status: resp.StatusCode, Body: truncate(string(body))}
	}

	cookie := resp.Header.Get("Set-Cookie")
	if cookie == "" {
		return &AuthError{Reason: "no session cookie in login response"}
	}
	c.cookie = cookie

	return nil
}

type groupsResponse struct {
	Result struct {
		Nodes map[string]struct {
			NodeType    string `json:"node_type"`
			Name        string `json:"name"`
			AuthKey     string `json:"auth_key"`
			ProductCode string `json:"product_code"`
		} `json:"nodes"`
	} `json:"result"`
}

// Tiles lists the account's trackers with their decoded auth keys. Nodes
// without an auth key (shared tiles, phones) are skipped with a warning.
func (c *Client) Tiles(ctx context.Context) ([]Tile, error) {
	if c.cookie == "" {
		return nil, &AuthError{Reason: "not logged in"}
	}

	endpoint := c.baseURL + "/users/groups?last_modified_timestamp=0"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cloud: building groups request")
	}
	c.headers(req, true)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cloud: groups request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, "cloud: reading groups response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(body))}
	}

	var groups groupsResponse
	if err := jsoniter.Unmarshal(body, &groups); err != nil {
		return nil, errors.Wrap(err, "cloud: decoding groups response")
	}

	var tiles []Tile
	for id, node := range groups.Result.Nodes {
		if node.NodeType != "TILE" {
			continue
		}
		if node.AuthKey == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(node.AuthKey)
		if err != nil {
			return nil, errors.Wrapf(err, "cloud: auth key for tile %s is not valid base64", id)
		}
		tiles = append(tiles, Tile{
			ID:          id,
			Name:        node.Name,
			ProductCode: node.ProductCode,
			AuthKey:     key,
		})
	}

	return tiles, nil
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
