package recordtype

import (
	"regexp"
	"strings"
	"time"

	"github.com/starford/tiwaz/internal/cache"
)

// PrefixTTL is how long a built prefix map is served before rebuilding.
const PrefixTTL = time.Hour

const prefixCacheKey = "prefix_map"

// seedPrefixes covers common series that may not be configured. Any
// prefix discovered from configured naming series replaces these.
var seedPrefixes = map[string]string{
	"PROJ": "Project",
	"SO":   "Sales Order",
	"CUST": "Customer",
	"PO":   "Purchase Order",
	"SINV": "Sales Invoice",
	"PINV": "Purchase Invoice",
	"QTN":  "Quotation",
	"TASK": "Task",
	"ISS":  "Issue",
}

var (
	seriesPrefixRe = regexp.MustCompile(`^([A-Za-z_]+)[-./]`)
	// idPrefixRe accepts a prefix, a separator and a remainder holding a digit.
	idPrefixRe = regexp.MustCompile(`^([A-Za-z_]+)[-./]\S*\d`)
)

// PrefixResolver maps naming-series prefixes ("SO") to record types. The
// map is built lazily, cached for PrefixTTL and only refreshed on expiry.
type PrefixResolver struct {
	reg   *Registry
	cache *cache.Cache[map[string]string]
}

// NewPrefixResolver creates a resolver over reg. c may be shared with other
// resolvers; its TTL should be PrefixTTL.
func NewPrefixResolver(reg *Registry, c *cache.Cache[map[string]string]) *PrefixResolver {
	if c == nil {
		c = cache.New[map[string]string](PrefixTTL)
	}
	return &PrefixResolver{reg: reg, cache: c}
}

// Resolve returns the record type for prefix, case-insensitively.
func (p *PrefixResolver) Resolve(prefix string) (string, bool) {
	m, _ := p.cache.GetOrLoad(prefixCacheKey, func() (map[string]string, error) {
		return p.Rebuild(), nil
	})
	t, ok := m[strings.ToUpper(strings.TrimSpace(prefix))]
	return t, ok
}

// ResolveID returns the record type whose prefix starts id ("SO-00042").
func (p *PrefixResolver) ResolveID(id string) (string, bool) {
	prefix, ok := SplitPrefix(id)
	if !ok {
		return "", false
	}
	return p.Resolve(prefix)
}

// Rebuild computes the full map: the seed table first, then every prefix
// found in configured naming series on top of it. Within the configured
// types the first type to claim a prefix keeps it.
func (p *PrefixResolver) Rebuild() map[string]string {
	dynamic := make(map[string]string)
	for _, t := range p.reg.All() {
		for _, option := range strings.Split(t.NamingSeries, "\n") {
			m := seriesPrefixRe.FindStringSubmatch(strings.TrimSpace(option))
			if m == nil {
				continue
			}
			key := strings.ToUpper(m[1])
			if _, seen := dynamic[key]; !seen {
				dynamic[key] = t.Name
			}
		}
	}

	out := make(map[string]string, len(seedPrefixes)+len(dynamic))
	for k, v := range seedPrefixes {
		out[k] = v
	}
	for k, v := range dynamic {
		out[k] = v
	}
	return out
}

// SplitPrefix returns the uppercase prefix of an id-looking token such as
// "so-00042" or "PROJ/2025/7".
func SplitPrefix(id string) (string, bool) {
	m := idPrefixRe.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}
