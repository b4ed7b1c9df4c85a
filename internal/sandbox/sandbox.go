package sandbox

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// QueryResult is returned to the model verbatim as a tool result.
type QueryResult struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns,omitempty"`
	Data     []map[string]any `json:"data,omitempty"`
	RowCount int              `json:"rowCount"`
	Error    string           `json:"error,omitempty"`
	Query    string           `json:"query"`
}

// The guard is a keyword screen, not a SQL parser. It assumes a cooperative
// model that may produce a mistaken statement, not an adversarial one.
var prohibited = regexp.MustCompile(`(?i)\b(update|delete|insert|drop|create|alter|truncate|grant|revoke|execute|call)\b`)

// Guard is an additional check run after the keyword screen.
type Guard interface {
	Check(ctx context.Context, tenantID uint64, query string) error
}

// Sandbox runs read-only statements for one tenant against the clinic database.
type Sandbox struct {
	db       *gorm.DB
	guard    Guard
	tenantID uint64
	timeout  time.Duration
}

type Option func(*Sandbox)

func WithGuard(g Guard) Option {
	return func(s *Sandbox) { s.guard = g }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

func New(db *gorm.DB, opts ...Option) *Sandbox {
	s := &Sandbox{db: db, timeout: 30 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ForTenant returns a copy bound to tenantID for guard evaluation.
func (s *Sandbox) ForTenant(tenantID uint64) *Sandbox {
	cp := *s
	cp.tenantID = tenantID
	return &cp
}

// CheckKeywords returns the first prohibited keyword found, if any.
func CheckKeywords(query string) (string, bool) {
	m := prohibited.FindString(query)
	return m, m != ""
}

// Validate runs the keyword screen and the optional guard without touching the database.
func (s *Sandbox) Validate(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query is empty")
	}
	if kw, found := CheckKeywords(query); found {
		return fmt.Errorf("Only SELECT queries are allowed for security reasons. Found prohibited keyword: %q", kw)
	}
	if s.guard != nil {
		if err := s.guard.Check(ctx, s.tenantID, query); err != nil {
			return err
		}
	}
	return nil
}

// Execute never returns a Go error: failures are reported in the result so the
// model can read them and correct the statement.
func (s *Sandbox) Execute(ctx context.Context, query string, args ...any) (res QueryResult) {
	res.Query = query
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sandbox: panic tenant=%d err=%v", s.tenantID, r)
			res = QueryResult{Success: false, Error: fmt.Sprintf("query failed: %v", r), Query: query}
		}
	}()

	if err := s.Validate(ctx, query); err != nil {
		log.Printf("sandbox: rejected tenant=%d err=%v", s.tenantID, err)
		res.Error = err.Error()
		return res
	}

	cctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := s.db.WithContext(cctx).Raw(query, args...).Rows()
	if err != nil {
		log.Printf("sandbox: exec failed tenant=%d cost=%s err=%v", s.tenantID, time.Since(start), err)
		res.Error = err.Error()
		return res
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		res.Error = err.Error()
		return res
	}

	data := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			res.Error = err.Error()
			return res
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Columns = cols
	res.Data = data
	res.RowCount = len(data)
	log.Printf("sandbox: ok tenant=%d rows=%d cost=%s", s.tenantID, res.RowCount, time.Since(start))
	return res
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}
