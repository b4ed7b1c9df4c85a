package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/suPer8Hu/ai-analytics/internal/ai"
	"github.com/suPer8Hu/ai-analytics/internal/resolvers"
	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
)

const (
	ToolExecuteSQL   = "execute_sql_query"
	ToolAppointments = "analyze_appointments"
	ToolTreatments   = "analyze_treatments"
)

type SQLArgs struct {
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// ExecutorFor returns the read-only executor bound to one tenant.
type ExecutorFor func(tenantID uint64) resolvers.Executor

// Toolbox dispatches model tool calls. The tenant id always comes from the
// caller, never from call arguments.
type Toolbox struct {
	executor   ExecutorFor
	treatments *resolvers.TreatmentAnalyzer
}

func NewToolbox(executor ExecutorFor, treatments *resolvers.TreatmentAnalyzer) *Toolbox {
	if treatments == nil {
		treatments = resolvers.NewTreatmentAnalyzer(nil)
	}
	return &Toolbox{executor: executor, treatments: treatments}
}

// SandboxTools wires a Toolbox to a gorm-backed sandbox.
func SandboxTools(sb *sandbox.Sandbox, treatments *resolvers.TreatmentAnalyzer) *Toolbox {
	return NewToolbox(func(tenantID uint64) resolvers.Executor { return sb.ForTenant(tenantID) }, treatments)
}

// Dispatch runs one call and always returns its result, failures included.
func (t *Toolbox) Dispatch(ctx context.Context, tenantID uint64, call ai.ToolCall) ai.ToolResult {
	start := time.Now()
	exec := t.executor(tenantID)

	var out any
	switch call.Name {
	case ToolExecuteSQL:
		var args SQLArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return failedResult(call, err.Error())
		}
		log.Printf("agent: tenant=%d tool=%s reason=%q", tenantID, call.Name, args.Reason)
		out = exec.Execute(ctx, args.Query)
	case ToolAppointments:
		var args resolvers.AppointmentArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return failedResult(call, err.Error())
		}
		out = resolvers.AnalyzeAppointments(ctx, exec, tenantID, args)
	case ToolTreatments:
		var args resolvers.TreatmentArgs
		if err := decodeArgs(call.Args, &args); err != nil {
			return failedResult(call, err.Error())
		}
		out = t.treatments.Analyze(ctx, exec, tenantID, args)
	default:
		log.Printf("agent: tenant=%d unknown tool=%q", tenantID, call.Name)
		return failedResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}

	log.Printf("agent: tenant=%d tool=%s done ms=%d", tenantID, call.Name, time.Since(start).Milliseconds())
	return ai.ToolResult{ID: call.ID, Name: call.Name, Response: map[string]any{"result": out}}
}

func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func failedResult(call ai.ToolCall, msg string) ai.ToolResult {
	return ai.ToolResult{
		ID:   call.ID,
		Name: call.Name,
		Response: map[string]any{"result": map[string]any{
			"success": false,
			"error":   msg,
		}},
	}
}

// Declarations are the tool schemas advertised to the model.
func Declarations() []ai.FunctionDeclaration {
	str := func(desc string) *ai.Schema { return &ai.Schema{Type: "string", Description: desc} }
	enum := func(desc string, values []string) *ai.Schema {
		return &ai.Schema{Type: "string", Description: desc, Enum: values}
	}
	limit := func(desc string) *ai.Schema { return &ai.Schema{Type: "integer", Description: desc} }

	return []ai.FunctionDeclaration{
		{
			Name:        ToolExecuteSQL,
			Description: "Execute a SELECT SQL query to retrieve data from the database. Only SELECT queries are allowed for security reasons.",
			Parameters: &ai.Schema{
				Type: "object",
				Properties: map[string]*ai.Schema{
					"query":  str("The SQL SELECT query to execute. Must be properly formatted for the database type being used."),
					"reason": str("Brief explanation of why this query is needed to answer the user's question."),
				},
				Required: []string{"query", "reason"},
			},
		},
		{
			Name: ToolAppointments,
			Description: "Analyze the user's appointments (visitors) without writing SQL. " +
				"Use for counts by date, date range, status, clinic or patient, and for listing appointments.",
			Parameters: &ai.Schema{
				Type: "object",
				Properties: map[string]*ai.Schema{
					"analysisType": enum("Which analysis to run.", resolvers.AppointmentAnalysisTypes),
					"date":         str("Single date in YYYY-MM-DD, required for by_date."),
					"startDate":    str("Range start in YYYY-MM-DD, required for by_date_range."),
					"endDate":      str("Range end in YYYY-MM-DD, required for by_date_range."),
					"status":       enum("Appointment status filter.", resolvers.AppointmentStatuses),
					"patientId":    str("Patient id, or a comma separated list of ids."),
					"clinicId":     str("Clinic id, or a comma separated list of ids."),
					"limit":        limit("Maximum rows to return. Defaults to 100."),
				},
				Required: []string{"analysisType"},
			},
		},
		{
			Name: ToolTreatments,
			Description: "Analyze treatments performed, grouping free-text names such as 'RCT-32,33' into canonical treatments " +
				"and counting each tooth treated. Use for treatment counts and most or least common treatments.",
			Parameters: &ai.Schema{
				Type: "object",
				Properties: map[string]*ai.Schema{
					"analysisType":  enum("Which analysis to run.", resolvers.TreatmentAnalysisTypes),
					"treatmentName": str("Treatment to search for, required for by_treatment_name."),
					"patientId":     str("Patient id, or a comma separated list of ids."),
					"clinicId":      str("Clinic id, or a comma separated list of ids."),
					"startDate":     str("Only treatments created on or after this YYYY-MM-DD date."),
					"endDate":       str("Only treatments created on or before this YYYY-MM-DD date."),
					"limit":         limit("Maximum ranking rows. Defaults to 10."),
				},
				Required: []string{"analysisType"},
			},
		},
	}
}
