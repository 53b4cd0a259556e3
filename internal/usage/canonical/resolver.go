package canonical

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var errOutsideRoot = errors.New("resource_outside_root")

// FSResolver resolves names against files under Root, trying each extension
// and an index file for directory-style names.
type FSResolver struct {
	Root       string
	Extensions []string
}

func NewFSResolver(root string, extensions []string) *FSResolver {
	return &FSResolver{Root: root, Extensions: normalizeExtensions(extensions)}
}

func (r *FSResolver) Resolve(name string) (string, bool, error) {
	if r == nil || strings.TrimSpace(r.Root) == "" {
		return "", false, nil
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name {
		return "", false, errOutsideRoot
	}

	candidates := make([]string, 0, 2*len(r.Extensions)+1)
	candidates = append(candidates, clean)
	for _, ext := range r.Extensions {
		candidates = append(candidates, clean+"."+ext)
	}
	for _, ext := range r.Extensions {
		candidates = append(candidates, clean+"/index."+ext)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(filepath.Join(r.Root, filepath.FromSlash(candidate)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", false, err
		}
		if info.Mode().IsRegular() {
			return candidate, true, nil
		}
	}
	return "", false, nil
}
