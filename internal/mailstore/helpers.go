package mailstore

import "os"

// fileAppendFlags are the flags used to append an error log line next to a
// poisoned mail file.
const fileAppendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// os_IsNotExist wraps os.IsNotExist so afero-returned errors (which wrap the
// underlying os error) are classified the same way regardless of backend.
func os_IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
