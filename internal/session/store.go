package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/config"
)

// Message is one stored conversation turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

const summaryPrefix = "Conversation so far (summary):\n"

// Backend is the list + string key space sessions live in.
// Indexes follow Redis LRANGE/LTRIM semantics.
type Backend interface {
	Push(ctx context.Context, key, value string) (int64, error)
	Len(ctx context.Context, key string) (int64, error)
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Trim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type Store struct {
	backend    Backend
	summarizer Summarizer
	cfg        config.SessionConfig
	now        func() time.Time
}

func NewStore(backend Backend, summarizer Summarizer, cfg config.SessionConfig) *Store {
	return &Store{
		backend:    backend,
		summarizer: summarizer,
		cfg:        cfg.Validate(),
		now:        time.Now,
	}
}

// SetClock overrides the timestamp source for appended messages.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func listKey(tenantID uint64, sessionID string) string {
	return fmt.Sprintf("ai:session:%d:%s:msgs", tenantID, sessionID)
}

func summaryKey(tenantID uint64, sessionID string) string {
	return fmt.Sprintf("ai:session:%d:%s:summary", tenantID, sessionID)
}

func lockKey(tenantID uint64, sessionID string) string {
	return fmt.Sprintf("ai:session:%d:%s:lock", tenantID, sessionID)
}

// CreateSession allocates a new id. Nothing is written until the first append.
func (s *Store) CreateSession(_ context.Context, tenantID uint64) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *Store) SessionExists(ctx context.Context, tenantID uint64, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, nil
	}
	return s.backend.Exists(ctx, listKey(tenantID, sessionID), summaryKey(tenantID, sessionID))
}

// AppendMessage stores msg and compacts the buffer once it outgrows its budget.
// A failed summary leaves the buffer as is; the next append retries.
func (s *Store) AppendMessage(ctx context.Context, tenantID uint64, sessionID string, msg Message) error {
	if msg.TS == 0 {
		msg.TS = s.now().UnixMilli()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	unlock, err := s.backend.Lock(ctx, lockKey(tenantID, sessionID), s.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	lk := listKey(tenantID, sessionID)
	sk := summaryKey(tenantID, sessionID)

	n, err := s.backend.Push(ctx, lk, string(payload))
	if err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	if err := s.backend.Expire(ctx, lk, s.cfg.TTL); err != nil {
		return fmt.Errorf("refresh ttl: %w", err)
	}

	prev, hasSummary, err := s.backend.Get(ctx, sk)
	if err != nil {
		return fmt.Errorf("read summary: %w", err)
	}

	b0 := int64(s.cfg.InitialBuffer)
	b1 := int64(s.cfg.RollingBuffer)

	switch {
	case !hasSummary && n > b0:
		old, err := s.readRange(ctx, lk, 0, b0-1)
		if err != nil {
			return err
		}
		digest, err := s.summarizer.Summarize(ctx, old)
		if err != nil {
			log.Printf("session: first summary skipped tenant=%d session=%s err=%v", tenantID, sessionID, err)
			return nil
		}
		if err := s.backend.Set(ctx, sk, digest, s.cfg.SummaryTTL); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		if err := s.backend.Trim(ctx, lk, b0, -1); err != nil {
			return fmt.Errorf("trim buffer: %w", err)
		}

	case hasSummary && n > b1:
		old, err := s.readRange(ctx, lk, 0, -1)
		if err != nil {
			return err
		}
		digest, err := s.summarizer.Summarize(ctx, old)
		if err != nil {
			log.Printf("session: rolling summary skipped tenant=%d session=%s err=%v", tenantID, sessionID, err)
			return nil
		}
		next := digest
		if prev != "" {
			next = prev + "\n" + digest
		}
		if err := s.backend.Set(ctx, sk, next, s.cfg.SummaryTTL); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		start, stop := int64(-s.cfg.RetainTail), int64(-1)
		if s.cfg.RetainTail == 0 {
			start, stop = 1, 0
		}
		if err := s.backend.Trim(ctx, lk, start, stop); err != nil {
			return fmt.Errorf("trim buffer: %w", err)
		}

	default:
		return nil
	}

	return s.backend.Expire(ctx, lk, s.cfg.TTL)
}

// GetMessages returns the summary (as a system turn) followed by the buffered messages.
func (s *Store) GetMessages(ctx context.Context, tenantID uint64, sessionID string) ([]Message, error) {
	msgs, err := s.readRange(ctx, listKey(tenantID, sessionID), 0, -1)
	if err != nil {
		return nil, err
	}
	summary, ok, err := s.backend.Get(ctx, summaryKey(tenantID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	if !ok || summary == "" {
		return msgs, nil
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: ai.RoleSystem, Text: summaryPrefix + summary, TS: s.now().UnixMilli()})
	return append(out, msgs...), nil
}

func (s *Store) readRange(ctx context.Context, key string, start, stop int64) ([]Message, error) {
	rows, err := s.backend.Range(ctx, key, start, stop)
	if err != nil {
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			log.Printf("session: skip malformed message key=%s err=%v", key, err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
