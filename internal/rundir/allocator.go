package rundir

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/jpeyre/mlxp/internal/errors"
)

// defaultMaxAttempts bounds the number of creation collisions tolerated
// before allocation is treated as a systemic failure rather than a race.
const defaultMaxAttempts = 1000

// Allocator claims unique integer run identities under a shared root.
// Independent processes may allocate concurrently; collisions on directory
// creation are resolved optimistically by re-scanning after a sub-second
// jitter. Directory creation is the only atomicity primitive used.
type Allocator struct {
	root        string
	maxAttempts int
	sleep       func(time.Duration)
}

// NewAllocator creates an allocator rooted at the given directory.
func NewAllocator(root string) *Allocator {
	return &Allocator{
		root:        root,
		maxAttempts: defaultMaxAttempts,
		sleep:       time.Sleep,
	}
}

// Allocate claims the next free run id. The candidate id is always
// max(existing digit-named subdirectories)+1, so sequential allocation
// yields dense consecutive ids and a lost race makes progress on re-scan.
// Returns the claimed id and its directory with the standard layout created.
func (a *Allocator) Allocate() (uint64, string, error) {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return 0, "", errors.NewAllocationError(errors.CodeAllocationExhausted,
			fmt.Sprintf("cannot create log root %s", a.root), err)
	}

	collisions := 0
	for {
		maxID, err := a.maxExistingID()
		if err != nil {
			return 0, "", errors.NewAllocationError(errors.CodeAllocationExhausted,
				fmt.Sprintf("cannot scan log root %s", a.root), err)
		}
		id := maxID + 1
		dir := RunPath(a.root, id)

		err = os.Mkdir(dir, 0o755)
		if err == nil {
			if err := EnsureLayout(dir); err != nil {
				return 0, "", err
			}
			return id, dir, nil
		}
		if !os.IsExist(err) {
			// Not a race: unwritable storage or similar, surface immediately.
			return 0, "", errors.NewAllocationError(errors.CodeAllocationExhausted,
				fmt.Sprintf("cannot create run directory %s", dir), err)
		}

		collisions++
		if collisions >= a.maxAttempts {
			return 0, "", errors.NewAllocationError(errors.CodeAllocationExhausted,
				fmt.Sprintf("no free run id under %s after %d collisions", a.root, collisions), err)
		}
		a.sleep(jitter())
	}
}

// Ensure claims a specific run id, creating its directory if needed. The
// caller asserts exclusive ownership of the id, so no race handling applies
// and the call is idempotent.
func (a *Allocator) Ensure(id uint64) (string, error) {
	dir := RunPath(a.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewAllocationError(errors.CodeAllocationExhausted,
			fmt.Sprintf("cannot create run directory %s", dir), err)
	}
	if err := EnsureLayout(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// maxExistingID returns the highest claimed run id under the root, or 0
// when no digit-named subdirectory exists.
func (a *Allocator) maxExistingID() (uint64, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, err
	}
	var maxID uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := ParseRunID(e.Name())
		if !ok {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

// jitter returns a random sub-second backoff for collision retries.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}
