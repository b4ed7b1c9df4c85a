// Package agent runs the tool-calling conversation that answers one question.
package agent

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

var (
	ErrIterationLimit = errors.New("agent: reached maximum iterations without final response")
	ErrEmptyResponse  = errors.New("agent: model returned an empty final response")
)

const DefaultMaxIterations = 10

const questionPrefix = "User Question: "

// CorrectivePrompt is sent when the model answers before running any tool.
const CorrectivePrompt = "You must execute a database query to answer this question. " +
	"Do not provide an answer based on conversation history. Use execute_sql_query now."

type Phase int

const (
	PhaseModelCall Phase = iota
	PhaseDispatch
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseModelCall:
		return "model_call"
	case PhaseDispatch:
		return "tool_dispatch"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is one snapshot of the loop. Step never mutates the State it is given.
type State struct {
	Phase         Phase
	Contents      []ai.Content
	Iteration     int
	MaxIterations int
	Executed      int
	Final         string
	Err           error
}

type Event interface{ isEvent() }

type ModelReplied struct{ Reply ai.Reply }

type ModelFailed struct{ Err error }

// ToolsDispatched carries results in call order.
type ToolsDispatched struct {
	Calls   []ai.ToolCall
	Results []ai.ToolResult
}

func (ModelReplied) isEvent()    {}
func (ModelFailed) isEvent()     {}
func (ToolsDispatched) isEvent() {}

type Effect interface{ isEffect() }

type CallModel struct{ Contents []ai.Content }

type DispatchTools struct{ Calls []ai.ToolCall }

func (CallModel) isEffect()     {}
func (DispatchTools) isEffect() {}

// BuildContents lays out the opening turns: instruction, acknowledgment,
// prior messages, then the question.
func BuildContents(instruction, acknowledgment string, prior []session.Message, question string) []ai.Content {
	contents := []ai.Content{
		ai.TextContent(ai.RoleUser, instruction),
		ai.TextContent(ai.RoleModel, acknowledgment),
	}
	for _, m := range prior {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := ai.RoleUser
		if m.Role == ai.RoleModel {
			role = ai.RoleModel
		}
		contents = append(contents, ai.TextContent(role, m.Text))
	}
	return append(contents, ai.TextContent(ai.RoleUser, questionPrefix+question))
}

// Start returns the initial state and its first model call.
func Start(contents []ai.Content, maxIterations int) (State, []Effect) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	s := State{
		Phase:         PhaseModelCall,
		Contents:      slices.Clone(contents),
		Iteration:     1,
		MaxIterations: maxIterations,
	}
	return s, []Effect{CallModel{Contents: s.Contents}}
}

// Step advances the loop by one event.
func Step(s State, ev Event) (State, []Effect) {
	if s.Phase == PhaseDone || s.Phase == PhaseFailed {
		return s, nil
	}
	next := s
	next.Contents = slices.Clone(s.Contents)

	switch e := ev.(type) {
	case ModelFailed:
		next.Phase = PhaseFailed
		next.Err = fmt.Errorf("agent: model call: %w", e.Err)
		return next, nil

	case ModelReplied:
		if len(e.Reply.ToolCalls) > 0 {
			next.Phase = PhaseDispatch
			return next, []Effect{DispatchTools{Calls: slices.Clone(e.Reply.ToolCalls)}}
		}
		if next.Executed == 0 {
			next.Contents = append(next.Contents, ai.TextContent(ai.RoleUser, CorrectivePrompt))
			return next.again()
		}
		if strings.TrimSpace(e.Reply.Text) == "" {
			next.Phase = PhaseFailed
			next.Err = ErrEmptyResponse
			return next, nil
		}
		next.Phase = PhaseDone
		next.Final = e.Reply.Text
		return next, nil

	case ToolsDispatched:
		for i, call := range e.Calls {
			res := failedResult(call, "tool produced no result")
			if i < len(e.Results) {
				res = e.Results[i]
			}
			next.Contents = append(next.Contents, ai.ToolCallContent(call), ai.ToolResultContent(res))
		}
		next.Executed += len(e.Calls)
		return next.again()

	default:
		next.Phase = PhaseFailed
		next.Err = fmt.Errorf("agent: unexpected event %T in phase %s", ev, s.Phase)
		return next, nil
	}
}

// again schedules another model call unless the ceiling is reached.
func (s State) again() (State, []Effect) {
	if s.Iteration >= s.MaxIterations {
		s.Phase = PhaseFailed
		s.Err = ErrIterationLimit
		return s, nil
	}
	s.Iteration++
	s.Phase = PhaseModelCall
	return s, []Effect{CallModel{Contents: s.Contents}}
}
