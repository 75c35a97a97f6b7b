package credential

import (
	"context"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/chrome"
)

// BrowserSource reads cookies from the local Chrome profiles.
type BrowserSource struct{}

// NewBrowserSource returns a Source backed by the browser cookie stores.
func NewBrowserSource() *BrowserSource {
	return &BrowserSource{}
}

// Cookies returns the valid cookies whose domain ends in domain. kooky skips
// stores it cannot open without reporting why, so an unreadable profile
// shows up as an empty result and the refresher keeps the previous token.
func (s *BrowserSource) Cookies(ctx context.Context, domain string) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fromKooky(kooky.ReadCookies(kooky.Valid, kooky.DomainHasSuffix(domain))), nil
}

func fromKooky(found []*kooky.Cookie) []Cookie {
	out := make([]Cookie, 0, len(found))
	for _, c := range found {
		if c == nil {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return out
}
