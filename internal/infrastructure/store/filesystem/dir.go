package filesystem

import (
	"fmt"
	"os"
)

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(path, 0755); mkErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkErr)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check directory %s: %w", path, err)
	} else if !info.IsDir() {
		return fmt.Errorf("path %s exists but is not a directory", path)
	}
	return nil
}
