package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/kv"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "user_sessions:"
)

// ErrSessionNotFound is returned by Store.Get for absent records.
var ErrSessionNotFound = errors.New("session not found")

// Store persists session records and the per-user index in a kv.Store.
type Store struct {
	kv kv.Store
}

// NewStore wraps backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

func (s *Store) key(sessionID ids.SessionID) string {
	return sessionKeyPrefix + string(sessionID)
}

func (s *Store) userKey(userID ids.UserID) string {
	return userKeyPrefix + string(userID)
}

// Save writes sess with ttl and adds it to the owner's index, raising the
// index TTL to cover the new member.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(sess.ID), data, ttl); err != nil {
		return err
	}

	userKey := s.userKey(sess.User.ID)
	if err := s.kv.AddToSet(ctx, userKey, string(sess.ID)); err != nil {
		return err
	}
	current, err := s.kv.TTL(ctx, userKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	if err == nil && current >= ttl {
		return nil
	}
	return s.kv.ExpireSet(ctx, userKey, ttl)
}

// Put overwrites a live record in place, keeping its TTL and index entry.
// A record that is already gone is never recreated; Put reports whether
// the write happened.
func (s *Store) Put(ctx context.Context, sess *Session) (bool, error) {
	data, err := Encode(sess)
	if err != nil {
		return false, err
	}
	return s.kv.SetIfExists(ctx, s.key(sess.ID), data)
}

// Get fetches and decodes a record.
func (s *Store) Get(ctx context.Context, sessionID ids.SessionID) (*Session, error) {
	data, err := s.kv.Get(ctx, s.key(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if sess.ID != sessionID {
		return nil, ErrCorruptSession
	}
	return sess, nil
}

// Delete removes one record and its index entry, reporting whether the
// record existed.
func (s *Store) Delete(ctx context.Context, userID ids.UserID, sessionID ids.SessionID) (bool, error) {
	n, err := s.kv.Delete(ctx, s.key(sessionID))
	if err != nil {
		return false, err
	}
	if userID != "" {
		if err := s.kv.RemoveFromSet(ctx, s.userKey(userID), string(sessionID)); err != nil {
			return n > 0, err
		}
	}
	return n > 0, nil
}

// IDsForUser returns the raw index members, including stale ones.
func (s *Store) IDsForUser(ctx context.Context, userID ids.UserID) ([]ids.SessionID, error) {
	members, err := s.kv.Members(ctx, s.userKey(userID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]ids.SessionID, 0, len(members))
	for _, m := range members {
		out = append(out, ids.SessionID(m))
	}
	return out, nil
}

// ListForUser loads every live record in the user's index and prunes index
// members whose record is gone or corrupt.
func (s *Store) ListForUser(ctx context.Context, userID ids.UserID) ([]*Session, error) {
	sessionIDs, err := s.IDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	var stale []string
	for _, sid := range sessionIDs {
		sess, err := s.Get(ctx, sid)
		switch {
		case err == nil && sess.User.ID == userID:
			sessions = append(sessions, sess)
		case err == nil, errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrCorruptSession):
			stale = append(stale, string(sid))
		default:
			return nil, err
		}
	}

	if len(stale) > 0 {
		if err := s.kv.RemoveFromSet(ctx, s.userKey(userID), stale...); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// DeleteAllForUser removes every indexed record and the index itself. A
// session created concurrently may survive; it expires on its own.
func (s *Store) DeleteAllForUser(ctx context.Context, userID ids.UserID) (int, error) {
	sessionIDs, err := s.IDsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, sid := range sessionIDs {
		keys = append(keys, s.key(sid))
	}
	deleted := int64(0)
	if len(keys) > 0 {
		if deleted, err = s.kv.Delete(ctx, keys...); err != nil {
			return 0, err
		}
	}
	if _, err := s.kv.Delete(ctx, s.userKey(userID)); err != nil {
		return int(deleted), err
	}
	return int(deleted), nil
}
