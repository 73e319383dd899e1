package supervisor

import "github.com/spf13/afero"

// writeFileAtomic writes data to tmp and renames it into path, matching the
// write contract used throughout the mail plane.
func writeFileAtomic(fs afero.Fs, path, tmp string, data []byte) error {
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
