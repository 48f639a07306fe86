// Package mediawiki is a client for the MediaWiki Action API used by every
// platform the bot edits (Wikidata, Commons, Wikipedia, Meta-Wiki).
//
// One Client type serves all platforms; what differs between them is the
// endpoint and the Capabilities flags.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/ratelimit"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/telemetry"
)

const (
	DefaultEditBudget = 12
	DefaultEditWindow = time.Minute
	DefaultCooldown   = 20 * time.Second
	DefaultTokenTTL   = 8 * time.Second
	DefaultMaxlag     = 5

	tokenAttempts    = 2
	readAttempts     = 3
	readBackoffBase  = 500 * time.Millisecond
	readBackoffMax   = 5 * time.Second
	maxThrottleWaits = 30
	maxResponseBytes = 32 << 20
)

// Params is a flat Action API parameter map. Boolean flags are set to "1".
type Params map[string]string

// Capabilities are optional features a platform supports.
type Capabilities struct {
	ShortURLs      bool
	Disambiguation bool
}

// Ledger tracks recent writes for the edit budget.
type Ledger interface {
	Admit(ctx context.Context, now time.Time) (bool, error)
	Record(ctx context.Context, now time.Time) error
}

// Options configure a Client. Zero values fall back to the package defaults.
type Options struct {
	Name         string
	Endpoint     string
	Capabilities Capabilities
	Credential   string
	Auth         Authenticator
	HTTPClient   *http.Client
	UserAgent    string
	Ledger       Ledger
	EditBudget   int
	EditWindow   time.Duration
	Cooldown     time.Duration
	TokenTTL     time.Duration
	Maxlag       int
	Sink         Sink
	Logger       *zerolog.Logger

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to one MediaWiki endpoint. A Client belongs to a single job
// worker; it is safe for concurrent reads but writes must not overlap.
type Client struct {
	name       string
	endpoint   string
	caps       Capabilities
	credential string
	auth       Authenticator
	http       *http.Client
	userAgent  string
	ledger     Ledger
	cooldown   time.Duration
	tokenTTL   time.Duration
	maxlag     int
	sink       Sink
	log        zerolog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	dryRun  bool
	token   string
	tokenAt time.Time
}

// New builds a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		name:       opts.Name,
		endpoint:   opts.Endpoint,
		caps:       opts.Capabilities,
		credential: opts.Credential,
		auth:       opts.Auth,
		http:       opts.HTTPClient,
		userAgent:  opts.UserAgent,
		ledger:     opts.Ledger,
		cooldown:   opts.Cooldown,
		tokenTTL:   opts.TokenTTL,
		maxlag:     opts.Maxlag,
		sink:       opts.Sink,
		now:        opts.Now,
		sleep:      opts.Sleep,
	}
	if c.name == "" {
		c.name = hostOf(opts.Endpoint)
	}
	if c.auth == nil {
		c.auth = BearerAuth{}
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.userAgent == "" {
		c.userAgent = "WikiportretBot/1.0"
	}
	if c.cooldown == 0 {
		c.cooldown = DefaultCooldown
	}
	if c.tokenTTL == 0 {
		c.tokenTTL = DefaultTokenTTL
	}
	if c.maxlag == 0 {
		c.maxlag = DefaultMaxlag
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.ledger == nil {
		budget, window := opts.EditBudget, opts.EditWindow
		if budget == 0 {
			budget = DefaultEditBudget
		}
		if window == 0 {
			window = DefaultEditWindow
		}
		c.ledger = ratelimit.NewSlidingWindow(budget, window)
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("platform", c.name).Logger()
	} else {
		c.log = zerolog.Nop()
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Capabilities() Capabilities { return c.caps }

// SetDryRun switches between sending writes and recording them in the sink.
func (c *Client) SetDryRun(on bool) { c.dryRun = on }

func (c *Client) DryRun() bool { return c.dryRun }

// Read performs a non-mutating request and decodes the response into out.
// Transport failures are retried with backoff; API errors are not.
func (c *Client) Read(ctx context.Context, params Params, out any) error {
	var lastErr error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		err := c.get(ctx, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, errs.ErrTransport) || attempt == readAttempts {
			break
		}
		wait := backoffWithJitter(readBackoffBase, readBackoffMax, attempt)
		c.log.Warn().Err(err).Str("action", params["action"]).Dur("retry_in", wait).Msg("read failed, retrying")
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// Write performs a mutating request: it waits for room in the edit budget,
// attaches a fresh csrf token and maxlag, and decodes the response into out.
// In dry-run mode the request is handed to the sink and out is left untouched.
func (c *Client) Write(ctx context.Context, params Params, out any) error {
	action := params["action"]
	if c.dryRun {
		return c.record(ctx, params)
	}
	refreshed := false
	for {
		if err := c.waitForBudget(ctx); err != nil {
			return err
		}
		token, err := c.csrfToken(ctx)
		if err != nil {
			return err
		}
		values := c.encode(params)
		values.Set("token", token)
		values.Set("maxlag", strconv.Itoa(c.maxlag))

		if err := c.ledger.Record(ctx, c.now()); err != nil {
			return err
		}
		body, err := c.do(ctx, http.MethodPost, action, values)
		if err == nil {
			err = c.decode(action, body, out)
		}
		if errs.HasCode(err, "badtoken") && !refreshed {
			c.log.Warn().Str("action", action).Msg("token rejected, refreshing")
			c.token = ""
			refreshed = true
			continue
		}
		if err != nil {
			return err
		}
		telemetry.PlatformWrites.WithLabelValues(c.name).Inc()
		c.log.Debug().Str("action", action).Msg("write sent")
		return nil
	}
}

func (c *Client) waitForBudget(ctx context.Context) error {
	for waits := 0; ; waits++ {
		ok, err := c.ledger.Admit(ctx, c.now())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if waits == maxThrottleWaits {
			return &errs.OverloadError{Platform: c.name, Info: "edit budget still exhausted after cooldowns"}
		}
		telemetry.ThrottleWaits.WithLabelValues(c.name).Inc()
		c.log.Info().Dur("cooldown", c.cooldown).Msg("edit budget spent, sleeping")
		if err := c.sleep(ctx, c.cooldown); err != nil {
			return err
		}
	}
}

type tokenResponse struct {
	Query struct {
		Tokens struct {
			CSRF string `json:"csrftoken"`
		} `json:"tokens"`
	} `json:"query"`
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	if c.token != "" && c.now().Sub(c.tokenAt) <= c.tokenTTL {
		return c.token, nil
	}
	var lastErr error
	for attempt := 1; attempt <= tokenAttempts; attempt++ {
		var resp tokenResponse
		err := c.get(ctx, Params{"action": "query", "meta": "tokens", "type": "csrf"}, &resp)
		if errors.Is(err, errs.ErrOverload) {
			return "", err
		}
		if err == nil && resp.Query.Tokens.CSRF != "" {
			c.token, c.tokenAt = resp.Query.Tokens.CSRF, c.now()
			return c.token, nil
		}
		if err == nil {
			err = errors.New("csrftoken missing from response")
		}
		lastErr = err
	}
	return "", &errs.TokenError{Platform: c.name, Attempts: tokenAttempts, Err: lastErr}
}

func (c *Client) record(ctx context.Context, params Params) error {
	m := Mutation{Platform: c.name, Action: params["action"], Params: cloneParams(params), At: c.now()}
	if c.sink != nil {
		if err := c.sink.Record(ctx, m); err != nil {
			return fmt.Errorf("record dry-run %s: %w", m.Action, err)
		}
	}
	telemetry.DryRunMutations.WithLabelValues(c.name).Inc()
	c.log.Info().Str("action", m.Action).Msg("dry run, write recorded")
	return nil
}

func (c *Client) get(ctx context.Context, params Params, out any) error {
	action := params["action"]
	body, err := c.do(ctx, http.MethodGet, action, c.encode(params))
	if err != nil {
		return err
	}
	return c.decode(action, body, out)
}

func (c *Client) encode(params Params) url.Values {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("format", "json")
	return values
}

func (c *Client) do(ctx context.Context, method, action string, values url.Values) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint+"?"+values.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.credential != "" {
		c.auth.Apply(req, c.credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.TransportError{Platform: c.name, Action: action, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &errs.TransportError{Platform: c.name, Action: action, Err: err}
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		telemetry.OverloadAborts.WithLabelValues(c.name).Inc()
		return nil, &errs.OverloadError{Platform: c.name, Info: "HTTP 503"}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &errs.TransportError{Platform: c.name, Action: action, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return body, nil
}

type envelope struct {
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

func (c *Client) decode(action string, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &errs.TransportError{Platform: c.name, Action: action, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Error != nil {
		if env.Error.Code == "maxlag" {
			telemetry.OverloadAborts.WithLabelValues(c.name).Inc()
			return &errs.OverloadError{Platform: c.name, Info: env.Error.Info}
		}
		return &errs.APIError{Platform: c.name, Code: env.Error.Code, Info: env.Error.Info}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &errs.TransportError{Platform: c.name, Action: action, Err: fmt.Errorf("decode %s: %w", action, err)}
	}
	return nil
}

func cloneParams(p Params) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func hostOf(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
