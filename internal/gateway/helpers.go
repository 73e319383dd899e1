package gateway

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
)

func writeJSONFile(fs afero.Fs, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(err, "marshal json file")
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errs.NewIOError(tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return errs.NewIOError(path, err)
	}
	return nil
}

func readJSONFile(fs afero.Fs, path string, v any) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
