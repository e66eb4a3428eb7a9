//go:build !unix

package script

import "os"

// identify falls back to the cleaned absolute path on platforms without
// device/inode identity.
func identify(absPath string) (FileID, error) {
	if _, err := os.Stat(absPath); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return FileID(absPath), nil
}
