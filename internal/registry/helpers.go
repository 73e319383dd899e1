package registry

import "os"

// osCreateWriteTrunc is the flag set used when writing the swarm config
// temp file ahead of an fsync-then-rename.
const osCreateWriteTrunc = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

func os_IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
