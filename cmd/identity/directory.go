package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"postboard/cmd/identity/ids"
)

// Directory maps a verified provider identity to an application user id,
// creating the user on first sight.
type Directory interface {
	Resolve(ctx context.Context, p Profile) (userID string, err error)
}

func directoryKey(p Profile) string {
	return NormalizeProvider(p.Provider) + "\x00" + strings.TrimSpace(p.Subject)
}

// MemoryDirectory is a process-local Directory for dev and tests.
type MemoryDirectory struct {
	mu    sync.Mutex
	users map[string]string // provider\x00subject -> user id
	now   func() time.Time
}

// NewMemoryDirectory constructs an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (d *MemoryDirectory) Resolve(ctx context.Context, p Profile) (string, error) {
	const op = "identity.MemoryDirectory.Resolve"

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := p.Validate(op); err != nil {
		return "", err
	}

	key := directoryKey(p)

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.users[key]; ok {
		return id, nil
	}
	id, err := ids.NewULID(d.now())
	if err != nil {
		return "", err
	}
	d.users[key] = id
	return id, nil
}
