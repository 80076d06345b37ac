// Package lock provides cross-process advisory locking for operations that
// must serialize across separate capacitord/capctl invocations: backoff
// state persistence, shell-beacon file rewrites, and daemon-socket
// bring-up.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Acquire takes an exclusive advisory lock on path, creating the lock file
// if needed, and returns a release function. The lock is held until the
// returned function is called.
func Acquire(path string) (func(), error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring flock %s: %w", path, err)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}

// TryAcquire attempts a non-blocking exclusive lock. ok is false if another
// process already holds it.
func TryAcquire(path string) (release func(), ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("try-locking flock %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = fl.Unlock() }, true, nil
}
