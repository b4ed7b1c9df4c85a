package resolvers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-analytics/internal/sandbox"
)

// Executor is the read-only query capability resolvers run on.
type Executor interface {
	Execute(ctx context.Context, query string, args ...any) sandbox.QueryResult
}

// Result is the structured answer handed back to the model.
type Result struct {
	Success      bool     `json:"success"`
	AnalysisType string   `json:"analysisType"`
	Summary      string   `json:"summary,omitempty"`
	Data         any      `json:"data,omitempty"`
	TotalCount   *int     `json:"totalCount,omitempty"`
	TotalResults int      `json:"totalResults,omitempty"`
	SearchTerm   string   `json:"searchTerm,omitempty"`
	Variations   []string `json:"matchedVariations,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func failed(analysisType string, format string, args ...any) Result {
	return Result{Success: false, AnalysisType: analysisType, Error: fmt.Sprintf(format, args...)}
}

// ID accepts either a JSON string or number; models send both.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	*id = ID(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

var numericRe = regexp.MustCompile(`^\d+$`)

// idList parses "3" or "3, 4,5" into bind args.
func idList(field string, id ID) ([]any, error) {
	raw := strings.TrimSpace(string(id))
	if raw == "" {
		return nil, nil
	}
	var out []any
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if !numericRe.MatchString(part) {
			return nil, fmt.Errorf("%s must be numeric, got %q", field, part)
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s out of range: %q", field, part)
		}
		out = append(out, n)
	}
	return out, nil
}

func inClause(column string, ids []any) string {
	if len(ids) == 1 {
		return column + " = ?"
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
}

func validDate(field, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return fmt.Errorf("%s must be YYYY-MM-DD, got %q", field, v)
	}
	return nil
}

func validDates(date, startDate, endDate string) error {
	if err := validDate("date", date); err != nil {
		return err
	}
	if err := validDate("startDate", startDate); err != nil {
		return err
	}
	if err := validDate("endDate", endDate); err != nil {
		return err
	}
	if startDate != "" && endDate != "" && startDate > endDate {
		return fmt.Errorf("startDate %s is after endDate %s", startDate, endDate)
	}
	return nil
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// toInt reads COUNT/SUM columns regardless of how the driver typed them.
func toInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case float64:
		return int(x)
	case float32:
		return int(x)
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return int(n)
		}
	case []byte:
		return toInt(string(x))
	}
	return 0
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
