package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/etheramiel/Scrobbler/internal/scrobble"
)

const (
	apiURL  = "https://ws.audioscrobbler.com/2.0/"
	authURL = "https://www.last.fm/api/auth/"
)

var (
	ErrInvalidCredentials = errors.New("lastfm: invalid username or password")
	ErrTokenNotAuthorized = errors.New("lastfm: token not authorized yet")
)

// Last.fm API error codes.
const (
	codeAuthFailed         = 4
	codeInvalidSession     = 9
	codeTokenNotAuthorized = 14
	codeRateLimited        = 29
)

// APIError is an error reported in a Last.fm response body.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lastfm error %d: %s", e.Code, e.Message)
}

// IgnoredError means Last.fm accepted the request but ignored the scrobble,
// for example because its timestamp is too old.
type IgnoredError struct {
	Code    string
	Message string
}

func (e *IgnoredError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lastfm ignored scrobble (code %s)", e.Code)
	}
	return fmt.Sprintf("lastfm ignored scrobble (code %s): %s", e.Code, e.Message)
}

// Config holds Last.fm client configuration.
type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Session is an authenticated Last.fm session.
type Session struct {
	Username string
	Key      string
}

// Client implements scrobble.Submitter for Last.fm.
type Client struct {
	mu         sync.Mutex
	apiKey     string
	apiSecret  string
	sessionKey string
	baseURL    string
	client     *http.Client
}

// New creates a new Last.fm client.
func New(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		sessionKey: cfg.SessionKey,
		baseURL:    cfg.BaseURL,
		client:     cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = apiURL
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

func (c *Client) Name() string { return "Last.fm" }

// HasKeys reports whether an API key and secret are configured.
func (c *Client) HasKeys() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

func (c *Client) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HasKeys() && c.sessionKey != ""
}

// SetSessionKey sets the session key for authenticated requests.
func (c *Client) SetSessionKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

func (c *Client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// Submit sends one scrobble with track.scrobble.
func (c *Client) Submit(ctx context.Context, s scrobble.Submission) error {
	if !c.IsEnabled() {
		return scrobble.ErrNotConfigured
	}

	params := map[string]string{
		"method":    "track.scrobble",
		"artist":    s.Artist,
		"track":     s.Title,
		"timestamp": strconv.FormatInt(s.Timestamp.Unix(), 10),
		"api_key":   c.apiKey,
		"sk":        c.session(),
	}
	if s.Album != "" {
		params["album"] = s.Album
	}
	if s.TrackNumber > 0 {
		params["trackNumber"] = strconv.Itoa(s.TrackNumber)
	}
	if s.Duration > 0 {
		params["duration"] = strconv.Itoa(int(s.Duration / time.Second))
	}
	if s.MBID != "" {
		params["mbid"] = s.MBID
	}

	var result struct {
		Scrobbles struct {
			Attr struct {
				Accepted int `json:"accepted"`
				Ignored  int `json:"ignored"`
			} `json:"@attr"`
			Scrobble struct {
				IgnoredMessage struct {
					Code string `json:"code"`
					Text string `json:"#text"`
				} `json:"ignoredMessage"`
			} `json:"scrobble"`
		} `json:"scrobbles"`
	}
	if err := c.signedPost(ctx, params, &result); err != nil {
		return err
	}

	if result.Scrobbles.Attr.Ignored > 0 && result.Scrobbles.Attr.Accepted == 0 {
		msg := result.Scrobbles.Scrobble.IgnoredMessage
		return &IgnoredError{Code: msg.Code, Message: msg.Text}
	}
	return nil
}

// MobileSession logs in with a username and password (auth.getMobileSession).
func (c *Client) MobileSession(ctx context.Context, username, password string) (Session, error) {
	params := map[string]string{
		"method":   "auth.getMobileSession",
		"username": username,
		"password": password,
		"api_key":  c.apiKey,
	}
	return c.fetchSession(ctx, params)
}

// Token requests an unauthorized token for web authentication (auth.getToken).
func (c *Client) Token(ctx context.Context) (string, error) {
	params := map[string]string{
		"method":  "auth.getToken",
		"api_key": c.apiKey,
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := c.signedPost(ctx, params, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", errors.New("lastfm: empty token")
	}
	return result.Token, nil
}

// AuthURL returns the page where the user authorizes token. When callback is
// set, Last.fm redirects there with the token appended.
func (c *Client) AuthURL(token, callback string) string {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	if token != "" {
		q.Set("token", token)
	}
	if callback != "" {
		q.Set("cb", callback)
	}
	return authURL + "?" + q.Encode()
}

// Session exchanges an authorized token for a session (auth.getSession).
func (c *Client) Session(ctx context.Context, token string) (Session, error) {
	params := map[string]string{
		"method":  "auth.getSession",
		"token":   token,
		"api_key": c.apiKey,
	}
	return c.fetchSession(ctx, params)
}

func (c *Client) fetchSession(ctx context.Context, params map[string]string) (Session, error) {
	if !c.HasKeys() {
		return Session{}, scrobble.ErrNotConfigured
	}
	var result struct {
		Session struct {
			Name string `json:"name"`
			Key  string `json:"key"`
		} `json:"session"`
	}
	if err := c.signedPost(ctx, params, &result); err != nil {
		return Session{}, err
	}
	if result.Session.Key == "" {
		return Session{}, errors.New("lastfm: empty session key")
	}
	c.SetSessionKey(result.Session.Key)
	return Session{Username: result.Session.Name, Key: result.Session.Key}, nil
}

func (c *Client) signedPost(ctx context.Context, params map[string]string, out any) error {
	params["api_sig"] = c.sign(params)
	params["format"] = "json"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read lastfm response: %w", err)
	}

	var apiErr struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != 0 {
		return mapError(apiErr.Error, apiErr.Message)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return scrobble.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return scrobble.ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("lastfm error: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode lastfm response: %w", err)
	}
	return nil
}

func mapError(code int, message string) error {
	switch code {
	case codeAuthFailed:
		return fmt.Errorf("%w (%s)", ErrInvalidCredentials, message)
	case codeInvalidSession:
		return fmt.Errorf("%w: %s", scrobble.ErrUnauthorized, message)
	case codeTokenNotAuthorized:
		return ErrTokenNotAuthorized
	case codeRateLimited:
		return fmt.Errorf("%w: %s", scrobble.ErrRateLimited, message)
	default:
		return &APIError{Code: code, Message: message}
	}
}

func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "format" && k != "callback" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sig strings.Builder
	for _, k := range keys {
		sig.WriteString(k)
		sig.WriteString(params[k])
	}
	sig.WriteString(c.apiSecret)

	hash := md5.Sum([]byte(sig.String()))
	return hex.EncodeToString(hash[:])
}
