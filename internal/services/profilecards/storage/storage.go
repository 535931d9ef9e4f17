package storage

import (
	"time"

	"github.com/louisbranch/profilecards/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Access rights recorded on items.
const (
	RightRead  = "read"
	RightWrite = "write"
)

// AccessEntry grants or denies one right to a principal on one item.
// Principal is a user name, "role:<name>" or "everyone".
type AccessEntry struct {
	Principal string
	Right     string
	Allow     bool
}

// Search index lifecycle states.
const (
	IndexOnline     = "online"
	IndexRebuilding = "rebuilding"
	IndexOffline    = "offline"
)

// IndexStatus describes the search index covering one database.
type IndexStatus struct {
	Database  string
	Name      string
	Status    string
	UpdatedAt time.Time
}

// Slot is the session-scoped value kept between suspend and resume.
type Slot struct {
	Principal    string
	Handle       string
	Params       map[string]string
	PreEditValue string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// JobRecord is the persisted ledger entry for one background job.
type JobRecord struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Key         string
	Principal   string
	State       string
	Alert       string
	ErrorCode   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Messages    []JobMessage
}

// JobMessage is one progress line.
type JobMessage struct {
	Seq       int
	Text      string
	CreatedAt time.Time
}
