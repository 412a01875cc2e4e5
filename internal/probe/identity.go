package probe

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// Identity is one realistic client signature presented to a platform.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
}

// Headers returns the request headers carried by the identity.
func (i Identity) Headers() http.Header {
	h := http.Header{}
	if i.AcceptLanguage != "" {
		h.Set("Accept-Language", i.AcceptLanguage)
	}
	return h
}

var defaultIdentities = []Identity{
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 " +
			"(KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		AcceptLanguage: "en-PH,en;q=0.9",
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		AcceptLanguage: "en-GB,en;q=0.8",
	},
	{
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 " +
			"(KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		AcceptLanguage: "en-US,en;q=0.8",
	},
}

// IdentityPool hands out identities round-robin. Safe for concurrent use.
type IdentityPool struct {
	identities []Identity
	next       atomic.Uint64
}

// NewIdentityPool builds a pool from user agents; an empty list uses the
// built-in signatures.
func NewIdentityPool(userAgents []string) *IdentityPool {
	ids := make([]Identity, 0, len(userAgents))
	for i, ua := range userAgents {
		ua = strings.TrimSpace(ua)
		if ua == "" {
			continue
		}
		ids = append(ids, Identity{
			UserAgent:      ua,
			AcceptLanguage: defaultIdentities[i%len(defaultIdentities)].AcceptLanguage,
		})
	}
	if len(ids) == 0 {
		ids = append(ids, defaultIdentities...)
	}
	return &IdentityPool{identities: ids}
}

// Next returns the next identity in rotation.
func (p *IdentityPool) Next() Identity {
	n := p.next.Add(1) - 1
	return p.identities[n%uint64(len(p.identities))]
}

// Len returns the pool size.
func (p *IdentityPool) Len() int {
	return len(p.identities)
}
