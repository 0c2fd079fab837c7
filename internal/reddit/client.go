// Package reddit implements the small slice of the Reddit API the archiver
// needs: the password-grant token exchange and the saved-items feed.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Ragnaruk/reddit-archiver/internal/domain"
)

const (
	defaultAuthBaseURL = "https://www.reddit.com"
	defaultAPIBaseURL  = "https://oauth.reddit.com"

	// tokenTTL is how long a fetched access token is reused before a new
	// exchange is performed.
	tokenTTL = time.Hour

	defaultHTTPTimeout = 30 * time.Second
)

// APIError is returned for non-2xx responses from the Reddit API.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit API returned status %d for %s", e.StatusCode, e.URL)
}

// Config holds the credentials and endpoints for the Reddit API client.
// The base URLs default to the public Reddit endpoints and only need to be
// set in tests.
type Config struct {
	AuthBaseURL  string
	APIBaseURL   string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// Client talks to the Reddit API. It caches the access token for tokenTTL
// so repeated feed fetches within the window skip re-authentication.
type Client struct {
	cfg  Config
	http *http.Client
	log  logrus.FieldLogger
	now  func() time.Time

	token       string
	tokenExpiry time.Time
}

// Listing is the envelope of a feed response.
type Listing struct {
	Data ListingData `json:"data"`
}

// ListingData carries the pagination cursor and the page's items. After is
// empty on the last page (Reddit sends JSON null, which decodes to "").
type ListingData struct {
	After    string  `json:"after"`
	Children []Thing `json:"children"`
}

// Thing wraps a single item of a listing.
type Thing struct {
	Data domain.Post `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// NewClient creates a Reddit API client.
func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = defaultAuthBaseURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: defaultHTTPTimeout},
		log:  logger.WithField("component", "reddit_client"),
		now:  time.Now,
	}
}

// Token returns a valid access token, performing the password-grant
// exchange only when the cached token has expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}
	endpoint := c.cfg.AuthBaseURL + "/api/v1/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access_token")
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(tokenTTL)
	c.log.Debug("Obtained new Reddit access token")
	return c.token, nil
}

// Saved fetches one page of the user's saved-items feed. Pass the After
// cursor of the previous page to fetch the next one, or "" for the first.
func (c *Client) Saved(ctx context.Context, after string) (Listing, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return Listing{}, err
	}

	endpoint := fmt.Sprintf("%s/user/%s/saved", c.cfg.APIBaseURL, url.PathEscape(c.cfg.Username))
	if after != "" {
		endpoint += "?after=" + url.QueryEscape(after)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to build saved request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Listing{}, fmt.Errorf("saved request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Listing{}, &APIError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	var listing Listing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return Listing{}, fmt.Errorf("failed to decode saved response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"after": listing.Data.After,
		"items": len(listing.Data.Children),
	}).Debug("Fetched saved-items page")
	return listing, nil
}
