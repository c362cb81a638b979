package manager

import (
	"os"
	"path/filepath"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/loader"
	"github.com/sysmaster-go/sysmaster/types"
)

// maskAwareResolver wraps a loader.FragmentResolver so a masked unit's
// fragment resolution fails with LoadError(Masked) instead of NotFound,
// so a subsequent start_unit fails with that reason instead of looking
// like a missing fragment.
type maskAwareResolver struct {
	etcDir string
	inner  loader.FragmentResolver
}

func (r maskAwareResolver) Resolve(id types.UnitId) ([]string, error) {
	if isMaskedIn(r.etcDir, id) {
		return nil, errs.LoadError("manager.FragmentResolver", string(id), types.LoadStateMasked)
	}
	return r.inner.Resolve(id)
}

func isMaskedIn(etcDir string, id types.UnitId) bool {
	target, err := os.Readlink(filepath.Join(etcDir, string(id)))
	return err == nil && target == os.DevNull
}

func (m *Manager) isMasked(id types.UnitId) bool {
	return isMaskedIn(m.etcDir, id)
}

// MaskUnit symlinks <etc>/<name> to /dev/null, so any future load attempt
// resolves to LoadStateMasked.
func (m *Manager) MaskUnit(name types.UnitId) error {
	if err := os.MkdirAll(m.etcDir, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "manager.MaskUnit", string(name), err)
	}
	path := filepath.Join(m.etcDir, string(name))
	_ = os.Remove(path)
	if err := os.Symlink(os.DevNull, path); err != nil {
		return errs.Wrap(errs.KindIO, "manager.MaskUnit", string(name), err)
	}
	return nil
}

// UnmaskUnit removes <etc>/<name> only if it is a symlink to /dev/null,
// leaving any other fragment alone.
func (m *Manager) UnmaskUnit(name types.UnitId) error {
	path := filepath.Join(m.etcDir, string(name))
	target, err := os.Readlink(path)
	if err != nil {
		// Missing, or present but not a symlink (a real fragment): nothing
		// to unmask.
		return nil
	}
	if target != os.DevNull {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return errs.Wrap(errs.KindIO, "manager.UnmaskUnit", string(name), err)
	}
	return nil
}

// EnableUnit symlinks name into every WantedBy/RequiredBy target's
// .wants/.requires directory under etcDir, pointing at name's resolved
// fragment, the way systemctl enable instantiates the reverse of a unit's
// [Install] section. Requires name to already be loaded (so its
// WantedBy/RequiredBy edges are known) and its fragment resolvable.
func (m *Manager) EnableUnit(name types.UnitId, resolver loader.FragmentResolver) error {
	paths, err := resolver.Resolve(name)
	if err != nil || len(paths) == 0 {
		return errs.LoadError("manager.EnableUnit", string(name), types.LoadStateNotFound)
	}
	fragment := paths[0]

	for _, target := range m.db.DepGets(name, types.UnitWantedBy) {
		if err := m.installSymlink(target, "wants", name, fragment); err != nil {
			return err
		}
	}
	for _, target := range m.db.DepGets(name, types.UnitRequiredBy) {
		if err := m.installSymlink(target, "requires", name, fragment); err != nil {
			return err
		}
	}
	return nil
}

// DisableUnit removes the symlinks EnableUnit would have created for name.
func (m *Manager) DisableUnit(name types.UnitId) error {
	for _, target := range m.db.DepGets(name, types.UnitWantedBy) {
		if err := m.removeSymlink(target, "wants", name); err != nil {
			return err
		}
	}
	for _, target := range m.db.DepGets(name, types.UnitRequiredBy) {
		if err := m.removeSymlink(target, "requires", name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) installDir(target types.UnitId, kind string) string {
	return filepath.Join(m.etcDir, string(target)+"."+kind)
}

func (m *Manager) installSymlink(target types.UnitId, kind string, name types.UnitId, fragment string) error {
	dir := m.installDir(target, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "manager.EnableUnit", string(name), err)
	}
	path := filepath.Join(dir, string(name))
	_ = os.Remove(path)
	if err := os.Symlink(fragment, path); err != nil {
		return errs.Wrap(errs.KindIO, "manager.EnableUnit", string(name), err)
	}
	return nil
}

func (m *Manager) removeSymlink(target types.UnitId, kind string, name types.UnitId) error {
	path := filepath.Join(m.installDir(target, kind), string(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "manager.DisableUnit", string(name), err)
	}
	return nil
}
