package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	chat "github.com/roboricindustries/chat-ingest/pkg/schemas/chat/v1"
)

var ErrNotFound = errors.New("record not found")

const (
	recordPrefix = "rec:"
	groupPrefix  = "grp:"
)

// RecordID is "<authorId-without-domain>-<eventId>".
func RecordID(authorID, eventID string) string {
	return chat.StripDomain(authorID) + "-" + eventID
}

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

// groupKey orders a group's records by message time, then id.
func groupKey(groupID string, sentAt int64, id string) []byte {
	if sentAt < 0 {
		sentAt = 0
	}
	return []byte(fmt.Sprintf("%s%s:%020d:%s", groupPrefix, groupID, sentAt, id))
}

func groupBounds(groupID string) (lower, upper []byte) {
	lower = []byte(groupPrefix + groupID + ":")
	upper = []byte(groupPrefix + groupID + ";") // ';' sorts right after ':'
	return lower, upper
}

// Records is the document store for canonical records, one JSON document per
// record id plus a per-group time index.
type Records struct {
	db     *pebble.DB
	logger *slog.Logger
	now    func() time.Time

	// serializes read-modify-write cycles
	mu sync.Mutex
}

func Open(path string, logger *slog.Logger) (*Records, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", slog.String("path", path), slog.Any("error", err))
		return nil, err
	}
	return &Records{db: db, logger: logger, now: time.Now}, nil
}

func (s *Records) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store writes rec unless a record with the same id exists. It returns the
// id and whether a write happened.
func (s *Records) Store(ctx context.Context, rec chat.CanonicalRecord) (string, bool, error) {
	const op = "store.Store"
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id := RecordID(rec.AuthorID, rec.UID.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(id)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		s.logger.Debug("record exists, skipping", slog.String("id", id))
		return id, false, nil
	}

	rec.StoredAt = s.now().UTC()
	val, err := json.Marshal(rec)
	if err != nil {
		return "", false, fmt.Errorf("%s: marshal: %w", op, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(recordKey(id), val, nil); err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	if rec.IsGroup && rec.GroupID != nil {
		if err := batch.Set(groupKey(*rec.GroupID, rec.RawMsgObject.Timestamp, id), []byte(id), nil); err != nil {
			return "", false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		s.logger.Error("pebble_apply_batch_failed", slog.String("id", id), slog.Any("error", err))
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return id, true, nil
}

// ApplyEdit appends an edit-history entry to the record the event refers to
// and replaces its body. Unknown records are left alone: ("", false, nil).
func (s *Records) ApplyEdit(ctx context.Context, ev chat.RawEvent, prevBody, newBody string) (string, bool, error) {
	const op = "store.ApplyEdit"
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	id := RecordID(ev.From, ev.ID.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	rec.EditHistory = append(rec.EditHistory, chat.EditHistoryEntry{
		PrevBody:  prevBody,
		NewBody:   newBody,
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
	rec.Body = newBody

	val, err := json.Marshal(rec)
	if err != nil {
		return "", false, fmt.Errorf("%s: marshal: %w", op, err)
	}
	if err := s.db.Set(recordKey(id), val, pebble.Sync); err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return id, true, nil
}

func (s *Records) Get(ctx context.Context, id string) (chat.CanonicalRecord, error) {
	if err := ctx.Err(); err != nil {
		return chat.CanonicalRecord{}, err
	}
	return s.get(id)
}

// RecentInGroup returns up to n records of a group, newest first.
func (s *Records) RecentInGroup(ctx context.Context, groupID string, n int) ([]chat.CanonicalRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower, upper := groupBounds(groupID)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []chat.CanonicalRecord
	for ok := it.Last(); ok && len(out) < n; ok = it.Prev() {
		id := string(bytes.Clone(it.Value()))
		rec, err := s.get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

func (s *Records) exists(id string) (bool, error) {
	_, closer, err := s.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

func (s *Records) get(id string) (chat.CanonicalRecord, error) {
	v, closer, err := s.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return chat.CanonicalRecord{}, ErrNotFound
	}
	if err != nil {
		return chat.CanonicalRecord{}, err
	}
	defer closer.Close()

	var rec chat.CanonicalRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return chat.CanonicalRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}
