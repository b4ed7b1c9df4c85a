package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/store/boltstore"
	"github.com/suPer8Hu/ai-analytics/internal/store/redisstore"
)

type countingSummarizer struct {
	mu     sync.Mutex
	calls  int
	inputs [][]Message
	err    error
}

func (s *countingSummarizer) Summarize(_ context.Context, msgs []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, append([]Message(nil), msgs...))
	if s.err != nil {
		return "", s.err
	}
	s.calls++
	return fmt.Sprintf("digest-%d", s.calls), nil
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		TTL:           time.Hour,
		SummaryTTL:    time.Hour,
		InitialBuffer: 6,
		RollingBuffer: 4,
		RetainTail:    2,
		LockTTL:       time.Second,
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rds.Close() })

	bolt, err := boltstore.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Backend{"redis": rds, "bolt": bolt}
}

func bufferLen(t *testing.T, b Backend, tenantID uint64, sessionID string) int64 {
	t.Helper()
	n, err := b.Len(context.Background(), listKey(tenantID, sessionID))
	require.NoError(t, err)
	return n
}

func TestAppendMessage_FirstAndRollingSummary(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sum := &countingSummarizer{}
			st := NewStore(backend, sum, testConfig())

			sid, err := st.CreateSession(ctx, 42)
			require.NoError(t, err)

			for i := 1; i <= 6; i++ {
				require.NoError(t, st.AppendMessage(ctx, 42, sid, Message{Role: ai.RoleUser, Text: fmt.Sprintf("m%d", i)}))
			}
			assert.Equal(t, 0, sum.calls)
			assert.EqualValues(t, 6, bufferLen(t, backend, 42, sid))

			// 7th message crosses the initial buffer
			require.NoError(t, st.AppendMessage(ctx, 42, sid, Message{Role: ai.RoleModel, Text: "m7"}))
			require.Equal(t, 1, sum.calls)
			require.Len(t, sum.inputs[0], 6)
			assert.Equal(t, "m1", sum.inputs[0][0].Text)
			assert.EqualValues(t, 1, bufferLen(t, backend, 42, sid))

			msgs, err := st.GetMessages(ctx, 42, sid)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, ai.RoleSystem, msgs[0].Role)
			assert.Equal(t, "Conversation so far (summary):\ndigest-1", msgs[0].Text)
			assert.Equal(t, "m7", msgs[1].Text)

			for i := 8; i <= 11; i++ {
				require.NoError(t, st.AppendMessage(ctx, 42, sid, Message{Role: ai.RoleUser, Text: fmt.Sprintf("m%d", i)}))
			}
			// buffer reached 5 > rolling buffer 4 on m11
			require.Equal(t, 2, sum.calls)
			assert.Len(t, sum.inputs[1], 5)
			assert.EqualValues(t, 2, bufferLen(t, backend, 42, sid))

			msgs, err = st.GetMessages(ctx, 42, sid)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "Conversation so far (summary):\ndigest-1\ndigest-2", msgs[0].Text)
			assert.Equal(t, "m10", msgs[1].Text)
			assert.Equal(t, "m11", msgs[2].Text)
		})
	}
}

func TestAppendMessage_BufferStaysBounded(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig()
			st := NewStore(backend, &countingSummarizer{}, cfg)
			sid, _ := st.CreateSession(ctx, 7)

			var lastSummary string
			for i := 0; i < 40; i++ {
				require.NoError(t, st.AppendMessage(ctx, 7, sid, Message{Role: ai.RoleUser, Text: "q"}))

				summary, ok, err := backend.Get(ctx, summaryKey(7, sid))
				require.NoError(t, err)
				n := bufferLen(t, backend, 7, sid)
				if ok {
					assert.LessOrEqual(t, n, int64(cfg.RollingBuffer))
					assert.True(t, strings.HasPrefix(summary, lastSummary), "summary must only grow")
					lastSummary = summary
				} else {
					assert.LessOrEqual(t, n, int64(cfg.InitialBuffer))
				}
			}
		})
	}
}

func TestAppendMessage_SummarizerFailureKeepsBuffer(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sum := &countingSummarizer{err: errors.New("model down")}
			st := NewStore(backend, sum, testConfig())
			sid, _ := st.CreateSession(ctx, 1)

			for i := 0; i < 7; i++ {
				require.NoError(t, st.AppendMessage(ctx, 1, sid, Message{Role: ai.RoleUser, Text: "q"}))
			}
			assert.Len(t, sum.inputs, 1)
			assert.EqualValues(t, 7, bufferLen(t, backend, 1, sid))

			_, ok, err := backend.Get(ctx, summaryKey(1, sid))
			require.NoError(t, err)
			assert.False(t, ok)

			// recovers on the next append once the model is back
			sum.err = nil
			require.NoError(t, st.AppendMessage(ctx, 1, sid, Message{Role: ai.RoleUser, Text: "q"}))
			assert.EqualValues(t, 2, bufferLen(t, backend, 1, sid))
		})
	}
}

func TestSessionExists_TenantScoped(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := NewStore(backend, &countingSummarizer{}, testConfig())
			sid, _ := st.CreateSession(ctx, 1)

			ok, err := st.SessionExists(ctx, 1, sid)
			require.NoError(t, err)
			assert.False(t, ok, "session is not durable before the first append")

			require.NoError(t, st.AppendMessage(ctx, 1, sid, Message{Role: ai.RoleUser, Text: "hi"}))
			ok, err = st.SessionExists(ctx, 1, sid)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = st.SessionExists(ctx, 2, sid)
			require.NoError(t, err)
			assert.False(t, ok)

			msgs, err := st.GetMessages(ctx, 2, sid)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestAppendMessage_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rds := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer rds.Close()

	ctx := context.Background()
	st := NewStore(rds, &countingSummarizer{}, testConfig())
	sid, _ := st.CreateSession(ctx, 9)
	require.NoError(t, st.AppendMessage(ctx, 9, sid, Message{Role: ai.RoleUser, Text: "hi"}))

	mr.FastForward(2 * time.Hour)
	ok, err := st.SessionExists(ctx, 9, sid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSummaryPrompt(t *testing.T) {
	p := SummaryPrompt([]Message{{Role: "user", Text: "how many?"}, {Role: "model", Text: "3"}})
	assert.True(t, strings.HasPrefix(p, "Summarize the following conversation"))
	assert.True(t, strings.HasSuffix(p, "Conversation:\nUSER: how many?\nMODEL: 3"))
}

type fixedProvider struct{ reply string }

func (p fixedProvider) Chat(context.Context, []ai.Message) (string, error) { return p.reply, nil }

func TestModelSummarizer_RejectsEmpty(t *testing.T) {
	_, err := NewModelSummarizer(fixedProvider{reply: "   "}).Summarize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptySummary)

	got, err := NewModelSummarizer(fixedProvider{reply: " ok \n"}).Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
