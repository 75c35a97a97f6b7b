// Package credential keeps the session credentials used to authenticate
// telemetry requests and refreshes them from the local browser profile.
package credential

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Cookie is a browser cookie as seen by a Source.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
}

// Source enumerates the cookies visible for a domain filter. Implementations
// may return cookies from other domains; the Refresher filters again.
type Source interface {
	Cookies(ctx context.Context, domain string) ([]Cookie, error)
}

// State is the mutable credential set shared by the refresher and the
// telemetry client. It is not safe for concurrent use; the poll loop is
// its only user.
type State struct {
	// Token is the session key sent with every request.
	Token   string
	cookies map[cookieKey]Cookie
}

// cookieKey identifies a cookie the way a browser jar does.
type cookieKey struct {
	domain string
	path   string
	name   string
}

// NewState returns a State seeded with the initial session token.
func NewState(token string) *State {
	return &State{
		Token:   token,
		cookies: make(map[cookieKey]Cookie),
	}
}

// Set stores or replaces the cookie with the same domain, path and name.
func (s *State) Set(c Cookie) {
	c.Domain = normalizeDomain(c.Domain)
	if c.Path == "" {
		c.Path = "/"
	}
	s.cookies[cookieKey{domain: c.Domain, path: c.Path, name: c.Name}] = c
}

// Cookie returns a stored cookie with the given name. When several domains
// carry the name, the most specific domain wins.
func (s *State) Cookie(name string) (Cookie, bool) {
	var (
		best  Cookie
		found bool
	)
	for key, c := range s.cookies {
		if key.name != name {
			continue
		}
		if !found || moreSpecific(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

// Len returns the number of stored cookies.
func (s *State) Len() int {
	return len(s.cookies)
}

// HTTPCookies returns the stored cookies a browser would send to u, ordered
// by name and then by longest path. Secure cookies are only sent over https.
func (s *State) HTTPCookies(u *url.URL) []*http.Cookie {
	if u == nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	secure := strings.EqualFold(u.Scheme, "https")

	matched := make([]Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		if !domainMatch(host, c.Domain) || !pathMatch(path, c.Path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		if len(matched[i].Path) != len(matched[j].Path) {
			return len(matched[i].Path) > len(matched[j].Path)
		}
		return moreSpecific(matched[i], matched[j])
	})

	out := make([]*http.Cookie, 0, len(matched))
	for _, c := range matched {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// domainMatch reports whether a cookie stored for domain applies to host.
func domainMatch(host, domain string) bool {
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// pathMatch follows the RFC 6265 path-match rules.
func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func moreSpecific(a, b Cookie) bool {
	if len(a.Domain) != len(b.Domain) {
		return len(a.Domain) > len(b.Domain)
	}
	if a.Domain != b.Domain {
		return a.Domain < b.Domain
	}
	return a.Path > b.Path
}

// Mask shortens a secret for logging, keeping a short prefix.
func Mask(value string) string {
	const keep = 3
	if value == "" {
		return "<empty>"
	}
	if len(value) <= keep {
		return "***"
	}
	return value[:keep] + "***"
}
