// Package canonical turns raw resource names into stable resource keys.
package canonical

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/zap"
)

var repeatedSlashes = regexp.MustCompile(`/+`)

// Resolver maps a normalized name to a path relative to a known root.
// It returns ok=false when the name does not resolve.
type Resolver interface {
	Resolve(name string) (relPath string, ok bool, err error)
}

// Canonicalizer normalizes resource names. It is safe for concurrent use.
type Canonicalizer struct {
	log        *zap.Logger
	extensions []string
	extPattern *regexp.Regexp
	resolver   Resolver
	cache      sync.Map // normalized name -> key
}

// New builds a Canonicalizer that strips the given extensions. resolver may be nil.
func New(log *zap.Logger, extensions []string, resolver Resolver) *Canonicalizer {
	if log == nil {
		log = zap.NewNop()
	}
	exts := normalizeExtensions(extensions)
	quoted := make([]string, 0, len(exts))
	for _, ext := range exts {
		quoted = append(quoted, regexp.QuoteMeta(ext))
	}
	return &Canonicalizer{
		log:        log.Named("canonical"),
		extensions: exts,
		extPattern: regexp.MustCompile(`(?i)\.(` + strings.Join(quoted, "|") + `)$`),
		resolver:   resolver,
	}
}

// Extensions returns the recognised extensions without leading dots.
func (c *Canonicalizer) Extensions() []string {
	out := make([]string, len(c.extensions))
	copy(out, c.extensions)
	return out
}

// Normalize applies the syntactic rules only. Rules repeat until the name
// is stable, since stripping a slash or extension can expose whitespace.
func (c *Canonicalizer) Normalize(raw string) string {
	name := raw
	for {
		next := c.normalizeOnce(name)
		if next == name {
			return name
		}
		name = next
	}
}

func (c *Canonicalizer) normalizeOnce(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `\`, "/")
	name = repeatedSlashes.ReplaceAllString(name, "/")
	name = strings.TrimLeft(name, "/")
	return c.StripExtension(name)
}

// StripExtension removes trailing known extensions until none remain.
func (c *Canonicalizer) StripExtension(name string) string {
	for {
		stripped := c.extPattern.ReplaceAllString(name, "")
		if stripped == name {
			return name
		}
		name = stripped
	}
}

// Canonicalize returns the resource key for raw. Resolution failures fall
// back to the normalized name.
func (c *Canonicalizer) Canonicalize(raw string) string {
	normalized := c.Normalize(raw)
	if normalized == "" || c.resolver == nil {
		return normalized
	}
	if cached, ok := c.cache.Load(normalized); ok {
		return cached.(string)
	}

	key := normalized
	rel, ok, err := c.resolver.Resolve(normalized)
	switch {
	case err != nil:
		c.log.Debug("resource name resolution failed",
			zap.String("name", normalized),
			zap.Error(err),
		)
		// not cached so a later call can retry
		return normalized
	case ok:
		if resolved := c.Normalize(rel); resolved != "" {
			key = resolved
		}
	}
	c.cache.Store(normalized, key)
	return key
}

// Reset drops cached resolutions, e.g. after the inventory changed on disk.
func (c *Canonicalizer) Reset() {
	c.cache.Range(func(k, _ any) bool {
		c.cache.Delete(k)
		return true
	})
}

// Merge re-keys entries by their canonical key. Colliding entries sum hits
// and keep the latest hit time.
func (c *Canonicalizer) Merge(entries map[string]domain.AccumulatorEntry) map[string]domain.AccumulatorEntry {
	out := make(map[string]domain.AccumulatorEntry, len(entries))
	for raw, entry := range entries {
		key := c.Canonicalize(raw)
		if key == "" {
			continue
		}
		existing, ok := out[key]
		if !ok {
			out[key] = entry
			continue
		}
		existing.Hits += entry.Hits
		existing.LastHitAt = latest(existing.LastHitAt, entry.LastHitAt)
		out[key] = existing
	}
	return out
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

func normalizeExtensions(extensions []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	if len(out) == 0 {
		out = []string{"twig", "html"}
	}
	return out
}
