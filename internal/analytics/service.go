// Package analytics answers tenant questions about their clinic data.
package analytics

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-analytics/internal/agent"
	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/prompt"
	"github.com/suPer8Hu/ai-analytics/internal/response"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

var (
	ErrQueryRequired  = errors.New("analytics: user query is required")
	ErrSessionExpired = errors.New("analytics: session expired")
)

const (
	msgNoResponse     = "No response generated! Please try again"
	msgIterationCap   = "Reached maximum iterations without final response"
	msgNoData         = "No Data found! Please try again"
	summaryEmpty      = "Empty response error"
	summaryProcessing = "Processing error"
)

// Sessions is the conversational memory the service reads and writes.
type Sessions interface {
	CreateSession(ctx context.Context, tenantID uint64) (string, error)
	SessionExists(ctx context.Context, tenantID uint64, sessionID string) (bool, error)
	AppendMessage(ctx context.Context, tenantID uint64, sessionID string, msg session.Message) error
	GetMessages(ctx context.Context, tenantID uint64, sessionID string) ([]session.Message, error)
}

// Runner answers one question through the tool-calling loop.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (string, error)
}

type AIResponse struct {
	Data []response.Block `json:"data"`
	Type string           `json:"type"`
}

type Answer struct {
	AIResponse AIResponse `json:"aiResponse"`
	SessionID  string     `json:"sessionId"`
}

// AgentError is returned by Ask when no answer could be produced. Answer
// still carries the structured failure blocks and the session id.
type AgentError struct {
	Answer  Answer
	Message string
	Err     error
}

func (e *AgentError) Error() string { return "analytics: " + e.Message + ": " + e.Err.Error() }

func (e *AgentError) Unwrap() error { return e.Err }

type Service struct {
	sessions     Sessions
	runner       Runner
	repo         *Repo
	publisher    JobPublisher
	dbType       string
	scopingRules string
	now          func() time.Time
}

func NewService(sessions Sessions, runner Runner, repo *Repo, publisher JobPublisher, dbType string) *Service {
	return &Service{
		sessions:     sessions,
		runner:       runner,
		repo:         repo,
		publisher:    publisher,
		dbType:       dbType,
		scopingRules: prompt.DefaultScopingRules,
		now:          time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Ask runs one question inside a session, creating the session when
// sessionID is empty or expired.
func (s *Service) Ask(ctx context.Context, tenantID uint64, sessionID, userQuery string) (Answer, error) {
	q := strings.TrimSpace(userQuery)
	if q == "" {
		return Answer{}, ErrQueryRequired
	}

	sid, err := s.resolveSession(ctx, tenantID, sessionID)
	if err != nil {
		return Answer{}, err
	}
	return s.answer(ctx, tenantID, sid, q)
}

// answer runs q in the already resolved session sid.
func (s *Service) answer(ctx context.Context, tenantID uint64, sid, q string) (Answer, error) {
	now := s.now()
	if err := s.sessions.AppendMessage(ctx, tenantID, sid, session.Message{Role: ai.RoleUser, Text: q, TS: now.UnixMilli()}); err != nil {
		return Answer{}, err
	}
	prior, err := s.sessions.GetMessages(ctx, tenantID, sid)
	if err != nil {
		return Answer{}, err
	}
	// the question itself is sent as the closing turn
	if n := len(prior); n > 0 && prior[n-1].Role == ai.RoleUser && prior[n-1].Text == q {
		prior = prior[:n-1]
	}

	dates := prompt.NewDateContext(now)
	log.Printf("analytics: tenant=%d session=%s date=%s prior=%d", tenantID, sid, dates.CurrentDate, len(prior))

	text, err := s.runner.Run(ctx, agent.Request{
		TenantID: tenantID,
		Instruction: prompt.Build(prompt.Input{
			DBType:       s.dbType,
			ScopingRules: s.scopingRules,
			TenantID:     tenantID,
			Date:         dates,
		}),
		Acknowledgment: prompt.Acknowledgment,
		Question:       q,
		Prior:          prior,
	})
	if err != nil {
		msg, summary := failureText(err)
		u := response.Failure(msg, summary)
		ans := Answer{AIResponse: AIResponse{Data: u.Content, Type: u.Type}, SessionID: sid}
		return ans, &AgentError{Answer: ans, Message: msg, Err: err}
	}

	parsed := response.Parse(text)
	if err := s.sessions.AppendMessage(ctx, tenantID, sid, session.Message{Role: ai.RoleModel, Text: text, TS: s.now().UnixMilli()}); err != nil {
		return Answer{}, err
	}
	log.Printf("analytics: tenant=%d session=%s answered blocks=%d summary=%q", tenantID, sid, len(parsed.Content), parsed.Summary)

	return Answer{AIResponse: AIResponse{Data: parsed.Content, Type: parsed.Type}, SessionID: sid}, nil
}

func (s *Service) resolveSession(ctx context.Context, tenantID uint64, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		ok, err := s.sessions.SessionExists(ctx, tenantID, sessionID)
		if err != nil {
			return "", err
		}
		if ok {
			return sessionID, nil
		}
	}
	return s.sessions.CreateSession(ctx, tenantID)
}

func failureText(err error) (string, string) {
	switch {
	case errors.Is(err, agent.ErrEmptyResponse):
		return msgNoResponse, summaryEmpty
	case errors.Is(err, agent.ErrIterationLimit):
		return msgIterationCap, summaryProcessing
	default:
		return msgNoData, summaryProcessing
	}
}

// History returns the session as the model sees it, summary first.
func (s *Service) History(ctx context.Context, tenantID uint64, sessionID string) ([]session.Message, error) {
	ok, err := s.sessions.SessionExists(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionExpired
	}
	return s.sessions.GetMessages(ctx, tenantID, sessionID)
}
