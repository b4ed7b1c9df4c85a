package analytics

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-analytics/internal/agent"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/resolvers"
	"github.com/suPer8Hu/ai-analytics/internal/response"
	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
	"github.com/suPer8Hu/ai-analytics/internal/session"
	"github.com/suPer8Hu/ai-analytics/internal/store/redisstore"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

// appointmentsModel calls analyze_appointments for today, then echoes the
// resolver summary as its answer.
type appointmentsModel struct {
	mu        sync.Mutex
	firstCall [][]ai.Content
	textOnly  bool
}

func (m *appointmentsModel) Generate(_ context.Context, contents []ai.Content, _ []ai.FunctionDeclaration) (*ai.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := contents[len(contents)-1]
	if m.textOnly {
		return &ai.Reply{Text: "I think about five."}, nil
	}
	if tr := last.Parts[0].ToolResult; tr != nil {
		res := tr.Response["result"].(resolvers.Result)
		return &ai.Reply{Text: res.Summary}, nil
	}
	m.firstCall = append(m.firstCall, slices.Clone(contents))
	return &ai.Reply{ToolCalls: []ai.ToolCall{{
		ID:   "call-1",
		Name: agent.ToolAppointments,
		Args: map[string]any{"analysisType": "by_date", "date": "2025-03-15"},
	}}}, nil
}

type cannedExecutor struct {
	mu   sync.Mutex
	args [][]any
}

func (e *cannedExecutor) Execute(_ context.Context, query string, args ...any) sandbox.QueryResult {
	e.mu.Lock()
	e.args = append(e.args, args)
	e.mu.Unlock()
	return sandbox.QueryResult{
		Success:  true,
		Columns:  []string{"appointment_date", "count"},
		Data:     []map[string]any{{"appointment_date": "2025-03-15", "count": int64(2)}},
		RowCount: 1,
		Query:    query,
	}
}

type fakePublisher struct {
	ids []string
	err error
}

func (p *fakePublisher) PublishJob(_ context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, jobID)
	return nil
}

type fixture struct {
	svc       *Service
	sessions  *session.Store
	model     *appointmentsModel
	exec      *cannedExecutor
	publisher *fakePublisher
	db        *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rds.Close() })

	summarizer := session.SummarizerFunc(func(context.Context, []session.Message) (string, error) {
		return "digest", nil
	})
	sessions := session.NewStore(rds, summarizer, config.DefaultSessionConfig())

	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	repo := NewRepo(db)
	require.NoError(t, repo.AutoMigrate())

	model := &appointmentsModel{}
	exec := &cannedExecutor{}
	tools := agent.NewToolbox(func(uint64) resolvers.Executor { return exec }, nil)
	pub := &fakePublisher{}

	svc := NewService(sessions, agent.New(model, tools, 10), repo, pub, "MySQL")
	svc.SetClock(func() time.Time { return fixedNow })
	return &fixture{svc: svc, sessions: sessions, model: model, exec: exec, publisher: pub, db: db}
}

func TestAsk_AppointmentsToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ans, err := f.svc.Ask(ctx, 42, "", "how many appointments do I have today")
	require.NoError(t, err)
	require.NotEmpty(t, ans.SessionID)
	assert.Equal(t, response.TypeUnified, ans.AIResponse.Type)
	assert.Equal(t, []response.Block{{Type: response.BlockText, Data: "You have 2 appointments on 2025-03-15."}}, ans.AIResponse.Data)

	require.Len(t, f.exec.args, 1)
	assert.Equal(t, []any{uint64(42), "2025-03-15"}, f.exec.args[0])

	require.Len(t, f.model.firstCall, 1)
	contents := f.model.firstCall[0]
	require.Len(t, contents, 3, "new session has no prior turns")
	assert.Contains(t, contents[0].Parts[0].Text, "Current date: 2025-03-15")
	assert.Contains(t, contents[0].Parts[0].Text, "42")
	assert.Equal(t, "User Question: how many appointments do I have today", contents[2].Parts[0].Text)

	msgs, err := f.svc.History(ctx, 42, ans.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, session.Message{Role: "user", Text: "how many appointments do I have today", TS: fixedNow.UnixMilli()}, msgs[0])
	assert.Equal(t, "model", msgs[1].Role)
	assert.Equal(t, "You have 2 appointments on 2025-03-15.", msgs[1].Text)

	_, err = f.svc.History(ctx, 7, ans.SessionID)
	assert.ErrorIs(t, err, ErrSessionExpired, "sessions are tenant scoped")
}

func TestAsk_ResumesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ask(ctx, 42, "", "appointments today?")
	require.NoError(t, err)
	second, err := f.svc.Ask(ctx, 42, first.SessionID, "and again?")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	contents := f.model.firstCall[1]
	require.Len(t, contents, 5)
	assert.Equal(t, ai.TextContent(ai.RoleUser, "appointments today?"), contents[2])
	assert.Equal(t, ai.RoleModel, contents[3].Role)
	assert.Equal(t, "User Question: and again?", contents[4].Parts[0].Text)
}

func TestAsk_UnknownSessionStartsFresh(t *testing.T) {
	f := newFixture(t)
	ans, err := f.svc.Ask(context.Background(), 42, "gone-session", "q")
	require.NoError(t, err)
	assert.NotEqual(t, "gone-session", ans.SessionID)
}

func TestAsk_EmptyQueryTouchesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), 42, "s1", "   ")
	assert.ErrorIs(t, err, ErrQueryRequired)
	assert.Empty(t, f.model.firstCall)
	ok, err := f.sessions.SessionExists(context.Background(), 42, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsk_AgentFailureKeepsOnlyUserMessage(t *testing.T) {
	f := newFixture(t)
	f.model.textOnly = true

	ans, err := f.svc.Ask(context.Background(), 42, "", "q")
	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.ErrorIs(t, err, agent.ErrIterationLimit)
	assert.Equal(t, "Reached maximum iterations without final response", agentErr.Message)
	assert.Equal(t, []response.Block{{Type: response.BlockText, Data: "Reached maximum iterations without final response"}}, ans.AIResponse.Data)
	assert.Equal(t, ans, agentErr.Answer)

	msgs, err := f.svc.History(context.Background(), 42, ans.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestJobs_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, created, err := f.svc.Enqueue(ctx, 42, "", "how many appointments do I have today", "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, JobQueued, job.Status)
	assert.Len(t, job.ID, 26)

	again, created, err := f.svc.Enqueue(ctx, 42, "", "how many appointments do I have today", "key-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, []string{job.ID}, f.publisher.ids)

	require.NoError(t, f.svc.RunJob(ctx, job.ID))

	view, err := f.svc.GetJob(ctx, 42, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, view.Status)
	require.NotNil(t, view.Result)
	assert.Equal(t, job.SessionID, view.Result.SessionID)
	assert.Equal(t, "You have 2 appointments on 2025-03-15.", view.Result.AIResponse.Data[0].Data)

	// redelivery is a no-op
	require.NoError(t, f.svc.RunJob(ctx, job.ID))
	assert.Len(t, f.exec.args, 1)

	_, err = f.svc.GetJob(ctx, 7, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.svc.GetJob(ctx, 42, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobs_FailedRunIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.model.textOnly = true
	ctx := context.Background()

	job, _, err := f.svc.Enqueue(ctx, 42, "", "q", "")
	require.NoError(t, err)
	assert.Error(t, f.svc.RunJob(ctx, job.ID))

	view, err := f.svc.GetJob(ctx, 42, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Contains(t, *view.Error, "Reached maximum iterations")
	assert.Nil(t, view.Result)
}

func TestJobs_PublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	_, _, err := f.svc.Enqueue(context.Background(), 42, "", "q", "")
	require.Error(t, err)

	var jobs []Job
	require.NoError(t, f.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobFailed, jobs[0].Status)
}

func TestJobs_RequireQueue(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, "MySQL")
	_, _, err := svc.Enqueue(context.Background(), 1, "", "q", "")
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestJobs_RetryAfterFailureSucceeds(t *testing.T) {
	f := newFixture(t)
	f.model.textOnly = true
	ctx := context.Background()

	job, _, err := f.svc.Enqueue(ctx, 42, "", "how many appointments do I have today", "")
	require.NoError(t, err)
	require.Error(t, f.svc.RunJob(ctx, job.ID))

	f.model.textOnly = false
	require.NoError(t, f.svc.RunJob(ctx, job.ID))

	view, err := f.svc.GetJob(ctx, 42, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, view.Status)
	assert.Nil(t, view.Error)
	require.NotNil(t, view.Result)
}
