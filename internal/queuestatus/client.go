// Package queuestatus reads queue pages from a QueueStatus deployment.
package queuestatus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"queue-monitor/internal/status"
	"queue-monitor/models"
)

const (
	loginPath   = "/users/post_login"
	sessionPath = "/users/any/edit"
)

// Client keeps one cookie session with the upstream site. It is safe for
// concurrent use by the monitors sharing that session.
type Client struct {
	baseURL  string
	http     *http.Client
	noFollow *http.Client
	parser   *Parser
}

func NewClient(baseURL string, loc *time.Location, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: timeout},
		noFollow: &http.Client{
			Jar:     jar,
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		parser: NewParser(loc),
	}, nil
}

// Login posts the credentials with the CSRF token of the landing page.
func (c *Client) Login(ctx context.Context, email, password string) error {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"utf8":     {"✓"},
		"email":    {email},
		"password": {password},
		"commit":   {"Login"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", status.ErrLoginFailed, resp.StatusCode)
	}
	return nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.http, "/")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse landing page: %w", err)
	}
	meta := findFirst(doc, and(byTag(atom.Meta), byAttr("name", "csrf-token")))
	if meta == nil {
		return "", fmt.Errorf("csrf token: %w", status.ErrUnexpectedPage)
	}
	return attr(meta, "content"), nil
}

// SessionExpired asks for a page that needs a login. A redirect means the
// session is gone.
func (c *Client) SessionExpired(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, c.noFollow, sessionPath)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusFound, nil
}

func (c *Client) FetchSnapshot(ctx context.Context, queueID string) (models.Snapshot, error) {
	resp, err := c.get(ctx, c.http, "/queues/"+url.PathEscape(queueID)+"/queue")
	if err != nil {
		return models.Snapshot{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.Snapshot{}, fmt.Errorf("queue %s: %w", queueID, status.ErrQueueNotFound)
	case resp.StatusCode != http.StatusOK:
		return models.Snapshot{}, fmt.Errorf("queue %s: unexpected status %d", queueID, resp.StatusCode)
	}

	snap, err := c.parser.Parse(resp.Body)
	if err != nil {
		return models.Snapshot{}, classify(err)
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// classify marks errors caused by a slow upstream with status.ErrFetchTimeout.
func classify(err error) error {
	if errors.Is(err, status.ErrFetchTimeout) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", status.ErrFetchTimeout, err)
	}
	return err
}
