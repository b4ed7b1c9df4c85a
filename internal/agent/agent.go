package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

// Request is everything one run needs. TenantID comes from the
// authenticated caller.
type Request struct {
	TenantID       uint64
	Instruction    string
	Acknowledgment string
	Question       string
	Prior          []session.Message
}

type Agent struct {
	provider      ai.ToolProvider
	tools         *Toolbox
	maxIterations int
}

func New(provider ai.ToolProvider, tools *Toolbox, maxIterations int) *Agent {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Agent{provider: provider, tools: tools, maxIterations: maxIterations}
}

// Run drives Step until the loop finishes and returns the model's final text.
func (a *Agent) Run(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	decls := Declarations()
	state, effects := Start(
		BuildContents(req.Instruction, req.Acknowledgment, req.Prior, req.Question),
		a.maxIterations,
	)

	for len(effects) > 0 {
		var ev Event
		switch eff := effects[0].(type) {
		case CallModel:
			if err := ctx.Err(); err != nil {
				ev = ModelFailed{Err: err}
				break
			}
			reply, err := a.provider.Generate(ctx, eff.Contents, decls)
			switch {
			case err != nil:
				ev = ModelFailed{Err: err}
			case reply == nil:
				ev = ModelReplied{}
			default:
				ev = ModelReplied{Reply: *reply}
			}
		case DispatchTools:
			results := make([]ai.ToolResult, 0, len(eff.Calls))
			for _, call := range eff.Calls {
				results = append(results, a.tools.Dispatch(ctx, req.TenantID, call))
			}
			ev = ToolsDispatched{Calls: eff.Calls, Results: results}
		default:
			return "", fmt.Errorf("agent: unknown effect %T", eff)
		}
		state, effects = Step(state, ev)
	}

	ms := time.Since(start).Milliseconds()
	if state.Phase == PhaseFailed {
		log.Printf("agent: tenant=%d failed iterations=%d tools=%d ms=%d err=%v", req.TenantID, state.Iteration, state.Executed, ms, state.Err)
		return "", state.Err
	}
	log.Printf("agent: tenant=%d done iterations=%d tools=%d ms=%d chars=%d", req.TenantID, state.Iteration, state.Executed, ms, len(state.Final))
	return state.Final, nil
}
