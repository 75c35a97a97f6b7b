package credential

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultTokenCookie is the cookie name the platform uses for its session key.
const DefaultTokenCookie = "s"

// Result summarises a single refresh.
type Result struct {
	Matched      int
	TokenChanged bool
	Failed       bool
}

// Refresher copies cookies for a target domain from a Source into a State
// and tracks the session token among them.
type Refresher struct {
	source      Source
	domain      string
	tokenCookie string
	logger      *slog.Logger
}

// NewRefresher constructs a Refresher for the given domain filter.
func NewRefresher(source Source, domain, tokenCookie string, logger *slog.Logger) (*Refresher, error) {
	if source == nil {
		return nil, fmt.Errorf("cookie source is required")
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("cookie domain is required")
	}
	if tokenCookie == "" {
		tokenCookie = DefaultTokenCookie
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Refresher{
		source:      source,
		domain:      domain,
		tokenCookie: tokenCookie,
		logger:      logger.With("component", "credential_refresher"),
	}, nil
}

// Domain returns the lower-cased domain filter.
func (r *Refresher) Domain() string {
	return r.domain
}

// Refresh re-reads cookies and updates state in place. It never fails:
// source errors are logged and the previous token is kept.
func (r *Refresher) Refresh(ctx context.Context, state *State) Result {
	cookies, err := r.source.Cookies(ctx, r.domain)
	if err != nil {
		r.logger.Warn("error updating cookies", "err", err)
		return Result{Failed: true}
	}

	var (
		result    Result
		candidate *Cookie
	)
	for i := range cookies {
		c := cookies[i]
		if !strings.Contains(strings.ToLower(c.Domain), r.domain) {
			continue
		}
		state.Set(c)
		result.Matched++

		if r.tokenRank(c.Name) > 0 && (candidate == nil || r.tokenRank(c.Name) >= r.tokenRank(candidate.Name)) {
			candidate = &c
		}
	}

	if candidate != nil && candidate.Value != state.Token {
		r.logger.Info("session key updated",
			"cookie", candidate.Name,
			"from", Mask(state.Token),
			"to", Mask(candidate.Value),
		)
		state.Token = candidate.Value
		result.TokenChanged = true
	}

	if !result.TokenChanged {
		r.logger.Debug("session key unchanged", "cookies", result.Matched)
	}
	return result
}

// tokenRank orders token candidates. The platform's own token cookie beats
// any cookie merely named like a session; zero means not a candidate. Ties
// go to the cookie seen last.
func (r *Refresher) tokenRank(name string) int {
	switch {
	case name == r.tokenCookie:
		return 2
	case strings.Contains(strings.ToLower(name), "session"):
		return 1
	default:
		return 0
	}
}
