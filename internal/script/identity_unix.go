//go:build unix

package script

import (
	"fmt"
	"os"
	"syscall"
)

// identify derives a stable identity from the file's device and inode
// numbers, falling back to the absolute path when the file does not
// exist yet or the platform information is unavailable.
func identify(absPath string) (FileID, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileID(absPath), nil
		}
		return "", err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return FileID(fmt.Sprintf("dev%d:ino%d", st.Dev, st.Ino)), nil
	}
	return FileID(absPath), nil
}
