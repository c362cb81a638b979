package journal

import (
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sysmaster-go/sysmaster/errs"
	"github.com/sysmaster-go/sysmaster/types"
)

// frameFile persists the single last-frame marker as one small file,
// swapped atomically via write-temp-then-rename so a crash mid-write never
// leaves a torn record: on POSIX, rename(2) onto an existing path is
// atomic, which a plain truncate-and-overwrite is not.
type frameFile struct {
	path string
}

func newFrameFile(stateDir string) *frameFile {
	return &frameFile{path: filepath.Join(stateDir, "last-frame")}
}

func (f *frameFile) write(frame types.LastFrame) error {
	data, err := msgpack.Marshal(frame)
	if err != nil {
		return errs.Wrap(errs.KindIO, "journal.frameFile.write", "", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "journal.frameFile.write", "", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "journal.frameFile.write", "", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errs.Wrap(errs.KindIO, "journal.frameFile.write", "", err)
	}
	return nil
}

func (f *frameFile) read() (types.LastFrame, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return types.LastFrame{}, nil
	}
	if err != nil {
		return types.LastFrame{}, errs.Wrap(errs.KindIO, "journal.frameFile.read", "", err)
	}

	var frame types.LastFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return types.LastFrame{}, errs.Wrap(errs.KindIO, "journal.frameFile.read", "", err)
	}
	return frame, nil
}

// SetFrame persists frame as the in-flight-operation marker, to be written
// before an externally observable step's other writes, following a
// write-frame-then-act-then-clear-frame contract.
func (s *Store) SetFrame(frame types.LastFrame) error {
	return s.frame.write(frame)
}

// ClearFrame marks no operation as in flight. Call after the step's writes
// complete successfully.
func (s *Store) ClearFrame() error {
	return s.frame.write(types.LastFrame{})
}

// ReadFrame returns the persisted last-frame marker, empty if none was ever
// written or the marker file does not exist yet.
func (s *Store) ReadFrame() (types.LastFrame, error) {
	return s.frame.read()
}
