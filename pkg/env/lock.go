// Copyright 2026 The Reef Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package env

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// BusyError is returned when another process holds the environment lock
// for the whole acquisition window.
type BusyError struct {
	Path string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("environment is locked by another process (%s)", e.Path)
}

// Lock is an exclusive advisory lock over the environment. One mutating
// transaction at a time; readers do not take it.
type Lock struct {
	f *os.File
}

const lockRetryInterval = 250 * time.Millisecond

// Acquire takes the environment lock, polling until the context expires.
// A context without a deadline fails immediately if the lock is taken.
func (e *Environment) Acquire(ctx context.Context) (*Lock, error) {
	path := filepath.Join(e.root, metaDir, "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("locking environment: %w", err)
		}
		if _, ok := ctx.Deadline(); !ok {
			f.Close()
			return nil, &BusyError{Path: path}
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, &BusyError{Path: path}
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
