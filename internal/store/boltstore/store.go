package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

var ErrWrongType = errors.New("boltstore: operation against a key holding the wrong kind of value")

const (
	kindList   = "list"
	kindString = "string"
)

// entry is the stored envelope. ExpiresAt is unix nanos; zero means no expiry.
type entry struct {
	Kind      string   `json:"kind"`
	List      []string `json:"list,omitempty"`
	Value     string   `json:"value,omitempty"`
	ExpiresAt int64    `json:"expires_at,omitempty"`
}

func (e *entry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixNano() >= e.ExpiresAt
}

// Store is an embedded single-node backend with list and string values,
// keyed and expired the way the Redis backend is.
type Store struct {
	db  *bolt.DB
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &Store{db: db, now: time.Now, locks: make(map[string]*keyLock)}, nil
}

// SetClock overrides the time source used for expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) load(b *bolt.Bucket, key string) (*entry, error) {
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	if e.expired(s.now()) {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) save(b *bolt.Bucket, key string, e *entry) error {
	if e.Kind == kindList && len(e.List) == 0 {
		return b.Delete([]byte(key))
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (s *Store) view(key string, fn func(e *entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		e, err := s.load(tx.Bucket(sessionsBucket), key)
		if err != nil {
			return err
		}
		return fn(e)
	})
}

func (s *Store) update(key string, fn func(e *entry) (*entry, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		e, err := s.load(b, key)
		if err != nil {
			return err
		}
		next, err := fn(e)
		if err != nil || next == nil {
			return err
		}
		return s.save(b, key, next)
	})
}

func (s *Store) Push(_ context.Context, key, value string) (int64, error) {
	var n int64
	err := s.update(key, func(e *entry) (*entry, error) {
		if e == nil {
			e = &entry{Kind: kindList}
		}
		if e.Kind != kindList {
			return nil, ErrWrongType
		}
		e.List = append(e.List, value)
		n = int64(len(e.List))
		return e, nil
	})
	return n, err
}

func (s *Store) Len(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.view(key, func(e *entry) error {
		if e == nil {
			return nil
		}
		if e.Kind != kindList {
			return ErrWrongType
		}
		n = int64(len(e.List))
		return nil
	})
	return n, err
}

func (s *Store) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.view(key, func(e *entry) error {
		if e == nil {
			return nil
		}
		if e.Kind != kindList {
			return ErrWrongType
		}
		lo, hi, ok := bounds(int64(len(e.List)), start, stop)
		if ok {
			out = append([]string(nil), e.List[lo:hi+1]...)
		}
		return nil
	})
	return out, err
}

func (s *Store) Trim(_ context.Context, key string, start, stop int64) error {
	return s.update(key, func(e *entry) (*entry, error) {
		if e == nil {
			return nil, nil
		}
		if e.Kind != kindList {
			return nil, ErrWrongType
		}
		lo, hi, ok := bounds(int64(len(e.List)), start, stop)
		if !ok {
			e.List = nil
			return e, nil
		}
		e.List = append([]string(nil), e.List[lo:hi+1]...)
		return e, nil
	})
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	return s.update(key, func(e *entry) (*entry, error) {
		if e == nil {
			return nil, nil
		}
		e.ExpiresAt = s.now().Add(ttl).UnixNano()
		return e, nil
	})
}

func (s *Store) Exists(_ context.Context, keys ...string) (bool, error) {
	alive := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		for _, k := range keys {
			e, err := s.load(b, k)
			if err != nil {
				return err
			}
			if e != nil {
				alive = true
				return nil
			}
		}
		return nil
	})
	return alive, err
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.view(key, func(e *entry) error {
		if e == nil {
			return nil
		}
		if e.Kind != kindString {
			return ErrWrongType
		}
		v, ok = e.Value, true
		return nil
	})
	return v, ok, err
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	return s.update(key, func(_ *entry) (*entry, error) {
		e := &entry{Kind: kindString, Value: value}
		if ttl > 0 {
			e.ExpiresAt = s.now().Add(ttl).UnixNano()
		}
		return e, nil
	})
}

// keyLock is a per-key mutex. refs counts holders and waiters so the entry
// can be dropped once nobody uses it.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Lock serializes callers on key within this process. ttl is unused since
// the lock cannot outlive the process holding it.
func (s *Store) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(key, l)
		return nil, fmt.Errorf("boltstore: lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.release(key, l)
		})
	}, nil
}

func (s *Store) release(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// bounds resolves Redis-style inclusive indexes (negative from the end).
func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
