package agent

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/resolvers"
	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

type scriptedProvider struct {
	replies []ai.Reply
	err     error
	seen    [][]ai.Content
	tools   []ai.FunctionDeclaration
}

func (p *scriptedProvider) Generate(_ context.Context, contents []ai.Content, tools []ai.FunctionDeclaration) (*ai.Reply, error) {
	p.seen = append(p.seen, slices.Clone(contents))
	p.tools = tools
	if p.err != nil {
		return nil, p.err
	}
	i := min(len(p.seen)-1, len(p.replies)-1)
	r := p.replies[i]
	return &r, nil
}

type recordingExecutor struct {
	tenants []uint64
	queries []string
	args    [][]any
	res     sandbox.QueryResult
}

func (e *recordingExecutor) forTenant(id uint64) resolvers.Executor {
	e.tenants = append(e.tenants, id)
	return e
}

func (e *recordingExecutor) Execute(_ context.Context, query string, args ...any) sandbox.QueryResult {
	e.queries = append(e.queries, query)
	e.args = append(e.args, args)
	r := e.res
	r.Query = query
	return r
}

func newTestAgent(p *scriptedProvider, exec *recordingExecutor, max int) *Agent {
	return New(p, NewToolbox(exec.forTenant, nil), max)
}

func request(question string) Request {
	return Request{TenantID: 42, Instruction: "SYSTEM", Acknowledgment: "ACK", Question: question}
}

func toolCall(id, name string, args map[string]any) ai.Reply {
	return ai.Reply{ToolCalls: []ai.ToolCall{{ID: id, Name: name, Args: args}}}
}

func TestBuildContents(t *testing.T) {
	prior := []session.Message{
		{Role: "system", Text: "Conversation so far (summary):\nearlier"},
		{Role: "user", Text: "how many patients"},
		{Role: "model", Text: "You have 10 patients."},
		{Role: "user", Text: "   "},
	}
	got := BuildContents("SYSTEM", "ACK", prior, "and today?")
	assert.Equal(t, []ai.Content{
		ai.TextContent(ai.RoleUser, "SYSTEM"),
		ai.TextContent(ai.RoleModel, "ACK"),
		ai.TextContent(ai.RoleUser, "Conversation so far (summary):\nearlier"),
		ai.TextContent(ai.RoleUser, "how many patients"),
		ai.TextContent(ai.RoleModel, "You have 10 patients."),
		ai.TextContent(ai.RoleUser, "User Question: and today?"),
	}, got)
}

func TestRun_ToolThenAnswer(t *testing.T) {
	exec := &recordingExecutor{res: sandbox.QueryResult{Success: true, Data: []map[string]any{{"count": int64(3)}}, RowCount: 1}}
	p := &scriptedProvider{replies: []ai.Reply{
		toolCall("c1", ToolAppointments, map[string]any{"analysisType": "by_date", "date": "2025-03-15", "userId": 7}),
		{Text: "You have 3 appointments on 2025-03-15."},
	}}

	out, err := newTestAgent(p, exec, 10).Run(context.Background(), request("appointments on the 15th?"))
	require.NoError(t, err)
	assert.Equal(t, "You have 3 appointments on 2025-03-15.", out)

	require.Len(t, p.seen, 2)
	assert.Len(t, p.tools, 3)
	second := p.seen[1]
	require.Len(t, second, 5)
	call, res := second[3], second[4]
	assert.Equal(t, ai.RoleModel, call.Role)
	assert.Equal(t, "c1", call.Parts[0].ToolCall.ID)
	assert.Equal(t, ai.RoleUser, res.Role)
	assert.Equal(t, "c1", res.Parts[0].ToolResult.ID)

	result := res.Parts[0].ToolResult.Response["result"].(resolvers.Result)
	assert.True(t, result.Success)
	assert.Equal(t, "You have 3 appointments on 2025-03-15.", result.Summary)

	assert.Equal(t, []uint64{42}, exec.tenants)
	assert.Equal(t, uint64(42), exec.args[0][0], "tenant comes from the request, not the model")
}

func TestRun_SQLTool(t *testing.T) {
	exec := &recordingExecutor{res: sandbox.QueryResult{Success: true, Columns: []string{"n"}, Data: []map[string]any{{"n": int64(1)}}, RowCount: 1}}
	p := &scriptedProvider{replies: []ai.Reply{
		toolCall("c1", ToolExecuteSQL, map[string]any{"query": "SELECT COUNT(*) AS n FROM patients WHERE userId = 42", "reason": "count"}),
		{Text: "One patient."},
	}}
	out, err := newTestAgent(p, exec, 10).Run(context.Background(), request("patients?"))
	require.NoError(t, err)
	assert.Equal(t, "One patient.", out)
	assert.Equal(t, []string{"SELECT COUNT(*) AS n FROM patients WHERE userId = 42"}, exec.queries)

	qr := p.seen[1][4].Parts[0].ToolResult.Response["result"].(sandbox.QueryResult)
	assert.Equal(t, 1, qr.RowCount)
}

func TestRun_CorrectsAnswerWithoutQuery(t *testing.T) {
	exec := &recordingExecutor{res: sandbox.QueryResult{Success: true}}
	p := &scriptedProvider{replies: []ai.Reply{
		{Text: "From memory, about 5."},
		toolCall("c1", ToolExecuteSQL, map[string]any{"query": "SELECT 1", "reason": "r"}),
		{Text: "Exactly one."},
	}}
	out, err := newTestAgent(p, exec, 10).Run(context.Background(), request("q"))
	require.NoError(t, err)
	assert.Equal(t, "Exactly one.", out)

	second := p.seen[1]
	assert.Equal(t, ai.TextContent(ai.RoleUser, CorrectivePrompt), second[len(second)-1])
	for _, c := range second {
		assert.NotEqual(t, "From memory, about 5.", c.Parts[0].Text)
	}
}

func TestRun_TerminatesWhenModelAlwaysCallsTools(t *testing.T) {
	exec := &recordingExecutor{res: sandbox.QueryResult{Success: true}}
	p := &scriptedProvider{replies: []ai.Reply{
		toolCall("c", ToolExecuteSQL, map[string]any{"query": "SELECT 1", "reason": "r"}),
	}}
	_, err := newTestAgent(p, exec, 3).Run(context.Background(), request("q"))
	assert.ErrorIs(t, err, ErrIterationLimit)
	assert.Len(t, p.seen, 3)
	assert.Len(t, exec.queries, 3)
}

func TestRun_TerminatesWhenModelNeverCallsTools(t *testing.T) {
	p := &scriptedProvider{replies: []ai.Reply{{Text: "no"}}}
	_, err := newTestAgent(p, &recordingExecutor{}, 4).Run(context.Background(), request("q"))
	assert.ErrorIs(t, err, ErrIterationLimit)
	assert.Len(t, p.seen, 4)
}

func TestRun_EmptyFinalText(t *testing.T) {
	p := &scriptedProvider{replies: []ai.Reply{
		toolCall("c1", ToolExecuteSQL, map[string]any{"query": "SELECT 1", "reason": "r"}),
		{Text: "  \n"},
	}}
	_, err := newTestAgent(p, &recordingExecutor{res: sandbox.QueryResult{Success: true}}, 10).Run(context.Background(), request("q"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestRun_ModelErrorIsTerminal(t *testing.T) {
	boom := errors.New("upstream 503")
	p := &scriptedProvider{err: boom}
	_, err := newTestAgent(p, &recordingExecutor{}, 10).Run(context.Background(), request("q"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, p.seen, 1)
}

func TestRun_UnknownToolAndBadArgsAreRecoverable(t *testing.T) {
	exec := &recordingExecutor{res: sandbox.QueryResult{Success: true}}
	p := &scriptedProvider{replies: []ai.Reply{
		{ToolCalls: []ai.ToolCall{
			{ID: "a", Name: "drop_everything", Args: map[string]any{}},
			{ID: "b", Name: ToolTreatments, Args: map[string]any{"analysisType": 5}},
		}},
		{Text: "Sorry, I could not compute that."},
	}}
	out, err := newTestAgent(p, exec, 10).Run(context.Background(), request("q"))
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I could not compute that.", out)

	second := p.seen[1]
	require.Len(t, second, 7)
	for _, idx := range []int{4, 6} {
		res := second[idx].Parts[0].ToolResult.Response["result"].(map[string]any)
		assert.Equal(t, false, res["success"])
		assert.NotEmpty(t, res["error"])
	}
	assert.Equal(t, "a", second[4].Parts[0].ToolResult.ID)
	assert.Equal(t, "b", second[6].Parts[0].ToolResult.ID)
	assert.Empty(t, exec.queries)
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProvider{replies: []ai.Reply{{Text: "x"}}}
	_, err := newTestAgent(p, &recordingExecutor{}, 10).Run(ctx, request("q"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.seen)
}

func TestStep_DoesNotMutateInput(t *testing.T) {
	s, _ := Start([]ai.Content{ai.TextContent(ai.RoleUser, "q")}, 5)
	before := slices.Clone(s.Contents)
	next, effects := Step(s, ModelReplied{Reply: ai.Reply{Text: "answer"}})

	assert.Equal(t, before, s.Contents)
	assert.Len(t, next.Contents, 2)
	assert.Equal(t, 2, next.Iteration)
	require.Len(t, effects, 1)
	assert.IsType(t, CallModel{}, effects[0])

	done, effects := Step(State{Phase: PhaseDone, Final: "x"}, ModelReplied{})
	assert.Equal(t, "x", done.Final)
	assert.Nil(t, effects)
}

func TestStep_PairsEveryCallWithAResult(t *testing.T) {
	s := State{Phase: PhaseDispatch, Iteration: 1, MaxIterations: 5}
	calls := []ai.ToolCall{{ID: "1", Name: ToolExecuteSQL}, {ID: "2", Name: ToolExecuteSQL}}
	next, _ := Step(s, ToolsDispatched{Calls: calls, Results: []ai.ToolResult{{ID: "1", Name: ToolExecuteSQL}}})
	require.Len(t, next.Contents, 4)
	assert.Equal(t, "2", next.Contents[3].Parts[0].ToolResult.ID)
	assert.Equal(t, 2, next.Executed)
	assert.Equal(t, PhaseModelCall, next.Phase)
}
