// Package dashboard implements the platform gateway against the HackRx
// evaluation dashboard over plain HTTP. Sessions are cookie-based: a
// form login primes the jar, and every later request is judged against
// the dashboard's habit of redirecting unauthenticated traffic back to
// the login page.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"hookbot/internal/platform"
	"hookbot/pkg/logx"
)

// Config holds dashboard endpoints and credentials.
type Config struct {
	BaseURL  string
	Email    string
	Password string

	// Route overrides; zero values use the production layout.
	LoginPath  string
	SubmitPath string
	FeedPath   string

	Timeout   time.Duration
	UserAgent string
}

const (
	defaultLoginPath  = "/login"
	defaultSubmitPath = "/submissions"
	defaultFeedPath   = "/submissions/all"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "hookbot/1.0 (submission agent)"

	// Feed pages are small; anything past this is noise.
	maxPageBytes = 2 << 20
)

// The dashboard acknowledges submissions in prose, so the outcome is
// judged by keyword. An error keyword only counts when no success
// keyword is present.
var (
	successIndicators = []string{"success", "submitted", "received", "accepted"}
	errorIndicators   = []string{"error", "failed", "invalid", "cooldown"}
)

// Client is one authenticated dashboard session.
type Client struct {
	cfg  Config
	log  logx.Logger
	base *url.URL
	http *http.Client
}

var _ platform.Gateway = (*Client)(nil)

// New builds a client with a fresh cookie jar. It does not log in;
// callers decide when to authenticate.
func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("dashboard: base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse base url: %w", err)
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = defaultSubmitPath
	}
	if cfg.FeedPath == "" {
		cfg.FeedPath = defaultFeedPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard: cookie jar: %w", err)
	}
	return &Client{
		cfg:  cfg,
		log:  log.With(logx.String("component", "dashboard")),
		base: base,
		http: &http.Client{Jar: jar, Timeout: cfg.Timeout},
	}, nil
}

// Factory adapts New into a platform.Factory so the dispatcher can open
// an isolated session per task.
func Factory(cfg Config, log logx.Logger) platform.Factory {
	return func(ctx context.Context) (platform.Gateway, error) {
		return New(cfg, log)
	}
}

// Login primes the cookie jar from the login page, posts the credential
// form, and treats "still on a login URL after redirects" as rejection.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.Email == "" || c.cfg.Password == "" {
		return fmt.Errorf("dashboard: credentials are not configured")
	}

	// Prime session cookies before posting the form.
	resp, err := c.get(ctx, c.cfg.LoginPath)
	if err != nil {
		return fmt.Errorf("dashboard: load login page: %w", err)
	}
	drain(resp)

	form := url.Values{}
	form.Set("email", c.cfg.Email)
	form.Set("password", c.cfg.Password)
	resp, err = c.postForm(ctx, c.cfg.LoginPath, form)
	if err != nil {
		return fmt.Errorf("dashboard: post login: %w", err)
	}
	drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("dashboard: login returned HTTP %d", resp.StatusCode)
	}
	if onLoginPage(resp.Request.URL) {
		return fmt.Errorf("dashboard: login rejected for %s", c.cfg.Email)
	}
	c.log.Debug("login ok", logx.String("user", c.cfg.Email))
	return nil
}

// Submit posts the submission form and judges the acknowledgement page
// by keyword. A page with no recognizable keywords still counts as
// accepted; the feed poll settles the real outcome.
func (c *Client) Submit(ctx context.Context, target, marker string) (platform.SubmitReceipt, error) {
	form := url.Values{}
	form.Set("url", target)
	form.Set("notes", marker)
	resp, err := c.postForm(ctx, c.cfg.SubmitPath, form)
	if err != nil {
		return platform.SubmitReceipt{}, fmt.Errorf("dashboard: post submission: %w", err)
	}
	body, err := readPage(resp)
	if err != nil {
		return platform.SubmitReceipt{}, fmt.Errorf("dashboard: read submission response: %w", err)
	}

	if onLoginPage(resp.Request.URL) {
		return platform.SubmitReceipt{}, platform.ErrSessionExpired
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return platform.SubmitReceipt{}, fmt.Errorf("dashboard: submission returned HTTP %d", resp.StatusCode)
	}

	// 4xx pages carry the rejection reason in prose, so they go through
	// the same keyword judgement as 200s.
	text, err := renderText(body)
	if err != nil {
		return platform.SubmitReceipt{}, fmt.Errorf("dashboard: parse submission response: %w", err)
	}
	lower := strings.ToLower(text)

	foundSuccess := keywordHits(lower, successIndicators)
	foundErrors := keywordHits(lower, errorIndicators)
	switch {
	case len(foundSuccess) > 0:
		note := "dashboard confirmed: " + strings.Join(foundSuccess, ", ")
		c.log.Debug("submission accepted", logx.String("marker", marker), logx.String("note", note))
		return platform.SubmitReceipt{Note: note}, nil
	case len(foundErrors) > 0:
		return platform.SubmitReceipt{}, fmt.Errorf("%w: %s", platform.ErrRejected, strings.Join(foundErrors, ", "))
	default:
		c.log.Debug("submission posted without clear confirmation", logx.String("marker", marker))
		return platform.SubmitReceipt{Note: "no clear confirmation on page"}, nil
	}
}

// FetchResultPage downloads the submissions feed and renders it to
// plain text.
func (c *Client) FetchResultPage(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, c.cfg.FeedPath)
	if err != nil {
		return "", fmt.Errorf("dashboard: fetch feed: %w", err)
	}
	body, err := readPage(resp)
	if err != nil {
		return "", fmt.Errorf("dashboard: read feed: %w", err)
	}

	if onLoginPage(resp.Request.URL) {
		return "", platform.ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dashboard: feed returned HTTP %d", resp.StatusCode)
	}

	text, err := renderText(body)
	if err != nil {
		return "", fmt.Errorf("dashboard: parse feed: %w", err)
	}
	return text, nil
}

// Close drops idle connections. Cookies die with the client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return c.http.Do(req)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

// onLoginPage reports whether the final URL after redirects is the
// login page, which is how the dashboard signals a dead session.
func onLoginPage(u *url.URL) bool {
	return u != nil && strings.Contains(strings.ToLower(u.Path), "login")
}

func keywordHits(lower string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func readPage(resp *http.Response) (string, error) {
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
	_ = resp.Body.Close()
}

// renderText strips markup down to the visible text so keyword and
// metric scans never trip over class names or inline scripts.
func renderText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
