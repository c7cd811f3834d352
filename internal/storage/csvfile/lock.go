package csvfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/id/uuid"
)

// ErrLocked is returned when another run holds a fresh lock on the store.
var ErrLocked = errors.New("store is locked by another run")

// LockPath returns the lock file guarding the store.
func (s *Store) LockPath() string {
	return s.path + ".lock"
}

// Lock takes the exclusive lock file. A lock older than the configured TTL
// is treated as abandoned and replaced. While held, the lock's modification
// time is refreshed periodically so long runs are not mistaken for dead ones.
func (s *Store) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopBeat != nil {
		return nil
	}
	lockPath := s.LockPath()
	token := []byte(fmt.Sprintf(`{"pid":%d,"time":%d,"nonce":%q}`+"\n", os.Getpid(), time.Now().Unix(), uuid.New().MustID()))
	for attempt := 0; attempt < 3; attempt++ {
		err := createLock(lockPath, token)
		if err == nil {
			// Only a file holding our token is ours.
			if held, readErr := os.ReadFile(lockPath); readErr != nil || !bytes.Equal(held, token) { // #nosec G304 -- store lock path.
				return fmt.Errorf("%w: %s (lost during acquire)", ErrLocked, lockPath)
			}
			s.token = token
			s.stopBeat = make(chan struct{})
			go heartbeat(lockPath, s.lockTTL/3, s.stopBeat)
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		observed, readErr := os.ReadFile(lockPath) // #nosec G304 -- store lock path.
		info, statErr := os.Stat(lockPath)
		if readErr != nil || statErr != nil {
			continue
		}
		age := time.Since(info.ModTime())
		if age < s.lockTTL {
			return fmt.Errorf("%w: %s (age %s)", ErrLocked, lockPath, age.Round(time.Second))
		}
		s.stealStale(lockPath, observed)
	}
	return fmt.Errorf("%w: %s", ErrLocked, lockPath)
}

// Unlock releases the lock file if this Store holds it. A lock file that no
// longer carries this Store's token belongs to someone else and is left alone.
func (s *Store) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopBeat == nil {
		return nil
	}
	close(s.stopBeat)
	s.stopBeat = nil
	token := s.token
	s.token = nil

	lockPath := s.LockPath()
	held, err := os.ReadFile(lockPath) // #nosec G304 -- store lock path.
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	if !bytes.Equal(held, token) {
		s.logger.Warn("store lock was taken over; leaving it in place", zap.String("lock", lockPath))
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func createLock(lockPath string, token []byte) error {
	// #nosec G302 G304 -- lock path derives from the configured store path.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	_, werr := f.Write(token)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(lockPath)
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// stealGateTTL bounds how long a crashed stealer can block others.
const stealGateTTL = 10 * time.Second

// stealStale removes the lock file only if it is still the abandoned lock
// that was observed: same content and still past the TTL. The check and the
// removal happen under an exclusive steal gate, so a stealer that lost the
// race cannot delete the lock a faster run just created.
func (s *Store) stealStale(lockPath string, observed []byte) {
	gate := lockPath + ".steal"
	if err := createLock(gate, nil); err != nil {
		if errors.Is(err, os.ErrExist) {
			clearAbandonedGate(gate)
		}
		return
	}
	defer func() { _ = os.Remove(gate) }()

	data, readErr := os.ReadFile(lockPath) // #nosec G304 -- store lock path.
	info, statErr := os.Stat(lockPath)
	if readErr != nil || statErr != nil || !bytes.Equal(data, observed) {
		return
	}
	age := time.Since(info.ModTime())
	if age < s.lockTTL {
		return
	}
	s.logger.Warn("removing stale store lock", zap.String("lock", lockPath), zap.Duration("age", age))
	_ = os.Remove(lockPath)
}

func clearAbandonedGate(gate string) {
	info, err := os.Stat(gate)
	if err == nil && time.Since(info.ModTime()) >= stealGateTTL {
		_ = os.Remove(gate)
	}
}

func heartbeat(lockPath string, every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			_ = os.Chtimes(lockPath, now, now)
		}
	}
}
