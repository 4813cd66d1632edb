package store

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/evmon/internal/event"
)

const (
	cursorVersion = 1
	// version | after | ceiling | fingerprint | checksum
	cursorLen = 1 + 8 + 8 + 8 + 8
)

// Position is a resume point inside a paginated scan. Events with
// After < id <= Ceiling remain to be read.
type Position struct {
	After   int64
	Ceiling int64
}

// Issue encodes pos as an opaque cursor bound to f.
func (s *Store) Issue(f Filter, pos Position) string {
	buf := make([]byte, cursorLen)
	buf[0] = cursorVersion
	binary.BigEndian.PutUint64(buf[1:9], uint64(pos.After))
	binary.BigEndian.PutUint64(buf[9:17], uint64(pos.Ceiling))
	binary.BigEndian.PutUint64(buf[17:25], f.Fingerprint())
	binary.BigEndian.PutUint64(buf[25:33], xxhash.Sum64(buf[:25]))
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Resolve turns a cursor into a Position. An empty cursor starts a new scan
// whose ceiling is the highest id issued so far, so events appended while
// the caller pages through never show up in it. Cursors that the store
// could not have issued for f fail with ErrInvalidCursor.
func (s *Store) Resolve(ctx context.Context, f Filter, cursor string) (Position, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	maxID, err := s.maxIssuedID(ctx)
	if err != nil {
		return Position{}, err
	}
	if cursor == "" {
		return Position{After: 0, Ceiling: maxID}, nil
	}

	buf, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return Position{}, fmt.Errorf("%w: malformed encoding", event.ErrInvalidCursor)
	}
	if len(buf) != cursorLen || buf[0] != cursorVersion {
		return Position{}, fmt.Errorf("%w: unknown format", event.ErrInvalidCursor)
	}
	if binary.BigEndian.Uint64(buf[25:33]) != xxhash.Sum64(buf[:25]) {
		return Position{}, fmt.Errorf("%w: checksum mismatch", event.ErrInvalidCursor)
	}
	if binary.BigEndian.Uint64(buf[17:25]) != f.Fingerprint() {
		return Position{}, fmt.Errorf("%w: issued for a different filter", event.ErrInvalidCursor)
	}

	pos := Position{
		After:   int64(binary.BigEndian.Uint64(buf[1:9])),
		Ceiling: int64(binary.BigEndian.Uint64(buf[9:17])),
	}
	if pos.After < 0 || pos.Ceiling < 0 || pos.After > pos.Ceiling || pos.Ceiling > maxID {
		return Position{}, fmt.Errorf("%w: position out of range", event.ErrInvalidCursor)
	}
	return pos, nil
}
