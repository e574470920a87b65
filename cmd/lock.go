package cmd

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/weightfetch/weightfetch/internal/config"
	"github.com/weightfetch/weightfetch/internal/utils"
)

// acquireLock takes the data root's lock file so two processes never write
// the same destinations. It fails fast instead of waiting.
func acquireLock(dataDir string) (*flock.Flock, error) {
	lock := flock.New(config.LockPath(dataDir))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data root: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another weightfetch process is using %s", dataDir)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		utils.Debug("Error releasing lock: %v", err)
	}
}
