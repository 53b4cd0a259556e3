package canonical

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingResolver struct{ calls int }

func (f *failingResolver) Resolve(string) (string, bool, error) {
	f.calls++
	return "", false, errors.New("template loader exploded")
}

func TestNormalizeRules(t *testing.T) {
	c := New(zap.NewNop(), []string{"twig", ".HTML"}, nil)

	cases := map[string]string{
		"  blog/post.twig ":        "blog/post",
		`\\blog\\post.TWIG`:        "blog/post",
		"//blog///entry.html":      "blog/entry",
		"/_partials/nav.twig.twig": "_partials/nav",
		"feeds/rss.xml":            "feeds/rss.xml",
		"":                         "",
	}
	for raw, want := range cases {
		assert.Equal(t, want, c.Canonicalize(raw), raw)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blog", "index.twig"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "about.html"), []byte("x"), 0o600))

	exts := []string{"twig", "html"}
	c := New(zap.NewNop(), exts, NewFSResolver(root, exts))

	for _, raw := range []string{"blog", "/blog/", "blog/index.twig", "about", "About.HTML", "missing/page.twig", `\x\\y.twig`, "/ home", "about .twig", " / blog .html "} {
		once := c.Canonicalize(raw)
		assert.Equal(t, once, c.Canonicalize(once), raw)
	}
	assert.Equal(t, "blog/index", c.Canonicalize("blog"))
	assert.Equal(t, "about", c.Canonicalize("about.html"))
	assert.Equal(t, "home", c.Canonicalize("/ home"))
	assert.Equal(t, "about", c.Canonicalize("about .twig"))
}

func TestResolutionFailureFallsBack(t *testing.T) {
	resolver := &failingResolver{}
	c := New(zap.NewNop(), nil, resolver)

	assert.Equal(t, "news/item", c.Canonicalize("news/item.twig"))
	assert.Equal(t, "news/item", c.Canonicalize("news/item"))
	assert.Equal(t, 2, resolver.calls)
}

func TestResolverRejectsTraversal(t *testing.T) {
	r := NewFSResolver(t.TempDir(), []string{"twig"})
	_, ok, err := r.Resolve("../etc/passwd")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestMergeCollapsesAliases(t *testing.T) {
	c := New(zap.NewNop(), nil, nil)
	early := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	merged := c.Merge(map[string]domain.AccumulatorEntry{
		"blog/post.twig": {Hits: 2, LastHitAt: &early},
		"/blog/post":     {Hits: 3, LastHitAt: &late},
		"home":           {Hits: 1},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, int64(5), merged["blog/post"].Hits)
	assert.Equal(t, late, *merged["blog/post"].LastHitAt)
	assert.Nil(t, merged["home"].LastHitAt)
}
