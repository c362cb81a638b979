package loader

import (
	"os"
	"path/filepath"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
)

// DirResolver is the production FragmentResolver: it searches a fixed,
// ordered list of directories for a file named exactly after the unit id,
// mirroring systemd's unit-file search path. Every match is returned, in
// directory order, so earlier directories come first. It only locates the
// fragment; parsing its
// contents is out of scope (unit-fragment INI parsing is not implemented).
type DirResolver struct {
	dirs []string
}

// NewDirResolver builds a DirResolver searching dirs in order.
func NewDirResolver(dirs []string) *DirResolver {
	return &DirResolver{dirs: dirs}
}

// Resolve returns every directory's copy of id that exists, in search
// order, or a LoadError(NotFound) if none do.
func (r *DirResolver) Resolve(id types.UnitId) ([]string, error) {
	var found []string
	for _, dir := range r.dirs {
		path := filepath.Join(dir, string(id))
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	if len(found) == 0 {
		return nil, errs.LoadError("loader.DirResolver.Resolve", string(id), types.LoadStateNotFound)
	}
	return found, nil
}

var _ FragmentResolver = (*DirResolver)(nil)
