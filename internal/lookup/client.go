// Package lookup turns one roster ID into a classified fetch outcome.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
)

// DefaultURLTemplate is the profile URL; %d is replaced by the ID.
const DefaultURLTemplate = "https://www.enkord.com/account/%d/"

// Config controls the client.
type Config struct {
	URLTemplate string
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Client fetches and classifies profiles. It implements crawler.Fetcher.
type Client struct {
	cfg       Config
	transport crawler.Transport
	parser    crawler.Parser
	policy    crawler.RetryPolicy
	pauser    crawler.Pauser
	jitter    crawler.Jitter
	logger    *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithPauser replaces the polite-delay sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(c *Client) {
		if p != nil {
			c.pauser = p
		}
	}
}

// WithRand fixes the polite-delay random source.
func WithRand(fn func() float64) Option {
	return func(c *Client) {
		c.jitter.Rand = fn
	}
}

// New builds a Client. policy tells the client which statuses the transport
// already retried, so a 429 that outlived its retries is a transient failure
// rather than a plain rate limit. A nil policy means nothing was retried.
func New(
	cfg Config,
	transport crawler.Transport,
	parser crawler.Parser,
	policy crawler.RetryPolicy,
	logger *zap.Logger,
	opts ...Option,
) (*Client, error) {
	if transport == nil {
		return nil, errors.New("lookup transport is required")
	}
	if parser == nil {
		return nil, errors.New("lookup parser is required")
	}
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if err := ValidateTemplate(cfg.URLTemplate); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:       cfg,
		transport: transport,
		parser:    parser,
		policy:    policy,
		pauser:    crawler.TimerPauser{},
		jitter:    crawler.Jitter{Min: cfg.MinDelay, Max: cfg.MaxDelay},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateTemplate checks that tmpl holds exactly one %d verb.
func ValidateTemplate(tmpl string) error {
	if strings.Count(tmpl, "%d") != 1 || strings.Count(tmpl, "%") != 1 {
		return fmt.Errorf("url template %q must contain exactly one %%d", tmpl)
	}
	return nil
}

// ProfileURL renders tmpl for id. tmpl must pass ValidateTemplate.
func ProfileURL(tmpl string, id uint64) string {
	return fmt.Sprintf(tmpl, id)
}

// URL renders the profile URL for id.
func (c *Client) URL(id uint64) string {
	return ProfileURL(c.cfg.URLTemplate, id)
}

// Fetch waits the polite delay, performs the lookup and classifies it. It
// never returns an error; failures are carried in the outcome.
func (c *Client) Fetch(ctx context.Context, id uint64) crawler.Outcome {
	if err := c.pauser.Pause(ctx, c.jitter.Next()); err != nil {
		return crawler.TransientFailure(id, &crawler.TransientError{Err: err})
	}
	start := time.Now()
	out := c.classify(ctx, id)
	metrics.ObserveFetch(out.Kind.String(), time.Since(start))
	return out
}

func (c *Client) classify(ctx context.Context, id uint64) crawler.Outcome {
	url := c.URL(id)
	resp, err := c.transport.Get(ctx, url)
	if err != nil {
		if _, ok := crawler.AsTransient(err); !ok {
			err = &crawler.TransientError{Attempts: max(resp.Attempts, 1), Err: err}
		}
		c.logger.Warn("lookup failed", zap.Uint64("id", id), zap.Error(err))
		return crawler.TransientFailure(id, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		rec, ok := c.parser.Parse(resp.Body, id)
		if !ok {
			c.logger.Debug("profile page has no account block", zap.Uint64("id", id))
			out := crawler.NotFound(id, resp.StatusCode)
			out.Attempts = resp.Attempts
			return out
		}
		out := crawler.Found(rec, resp.StatusCode)
		out.Attempts = resp.Attempts
		return out
	case resp.StatusCode == http.StatusNotFound:
		out := crawler.NotFound(id, resp.StatusCode)
		out.Attempts = resp.Attempts
		return out
	case resp.StatusCode == http.StatusTooManyRequests && !c.retried(resp.StatusCode):
		c.logger.Warn("rate limited", zap.Uint64("id", id))
		out := crawler.RateLimited(id, resp.StatusCode)
		out.Attempts = resp.Attempts
		return out
	default:
		terr := &crawler.TransientError{
			StatusCode: resp.StatusCode,
			Attempts:   resp.Attempts,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		c.logger.Warn("lookup failed", zap.Uint64("id", id), zap.Int("status", resp.StatusCode), zap.Error(terr))
		return crawler.TransientFailure(id, terr)
	}
}

func (c *Client) retried(status int) bool {
	return c.policy != nil && c.policy.RetriesStatus(status)
}
