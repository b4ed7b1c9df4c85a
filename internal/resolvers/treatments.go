package resolvers

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	TreatmentsTotalCount  = "total_count"
	TreatmentsByName      = "by_treatment_name"
	TreatmentsMostCommon  = "most_common"
	TreatmentsLeastCommon = "least_common"
)

var TreatmentAnalysisTypes = []string{TreatmentsTotalCount, TreatmentsByName, TreatmentsMostCommon, TreatmentsLeastCommon}

type TreatmentArgs struct {
	AnalysisType  string `json:"analysisType"`
	TreatmentName string `json:"treatmentName,omitempty"`
	PatientID     ID     `json:"patientId,omitempty"`
	ClinicID      ID     `json:"clinicId,omitempty"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// TreatmentCount is one row of a ranking, counted per tooth.
type TreatmentCount struct {
	TreatmentName   string `json:"treatment_name"`
	TotalTreatments int    `json:"total_treatments"`
	ProceduresDone  int    `json:"procedures_done"`
}

type treatmentGroup struct {
	name       string
	teeth      int
	procedures int
	variations []string
}

// TreatmentAnalyzer reads the tenant's treatments and aggregates them by
// normalized name in Go, so the counting rules live in one place.
type TreatmentAnalyzer struct {
	synonyms SynonymTable
}

func NewTreatmentAnalyzer(t SynonymTable) *TreatmentAnalyzer {
	if len(t) == 0 {
		t = defaultSynonyms
	}
	return &TreatmentAnalyzer{synonyms: t}
}

// AnalyzeTreatments uses the embedded synonym table.
func AnalyzeTreatments(ctx context.Context, exec Executor, tenantID uint64, args TreatmentArgs) Result {
	return NewTreatmentAnalyzer(nil).Analyze(ctx, exec, tenantID, args)
}

func (a *TreatmentAnalyzer) Analyze(ctx context.Context, exec Executor, tenantID uint64, args TreatmentArgs) Result {
	kind := strings.ToLower(strings.TrimSpace(args.AnalysisType))
	if kind == "" {
		kind = TreatmentsTotalCount
	}
	if !slices.Contains(TreatmentAnalysisTypes, kind) {
		return failed(kind, "unsupported analysisType %q", args.AnalysisType)
	}
	search := strings.TrimSpace(args.TreatmentName)
	if kind == TreatmentsByName && search == "" {
		return failed(kind, "treatmentName is required for %s", kind)
	}
	if err := validDates("", args.StartDate, args.EndDate); err != nil {
		return failed(kind, "%v", err)
	}

	where := []string{
		"p.userId = ?",
		"t.deletedAt IS NULL",
		"tp.deletedAt IS NULL",
		"p.deletedAt IS NULL",
		"c.deletedAt IS NULL",
	}
	params := []any{tenantID}
	if args.StartDate != "" {
		where = append(where, "DATE(t.createdAt) >= ?")
		params = append(params, args.StartDate)
	}
	if args.EndDate != "" {
		where = append(where, "DATE(t.createdAt) <= ?")
		params = append(params, args.EndDate)
	}
	patientIDs, err := idList("patientId", args.PatientID)
	if err != nil {
		return failed(kind, "%v", err)
	}
	if len(patientIDs) > 0 {
		where = append(where, inClause("p.id", patientIDs))
		params = append(params, patientIDs...)
	}
	clinicIDs, err := idList("clinicId", args.ClinicID)
	if err != nil {
		return failed(kind, "%v", err)
	}
	if len(clinicIDs) > 0 {
		where = append(where, inClause("c.id", clinicIDs))
		params = append(params, clinicIDs...)
	}

	query := fmt.Sprintf(`SELECT
  t.id,
  t.name AS treatment_name,
  t.createdAt,
  p.name AS patient_name,
  c.name AS clinic_name
FROM treatments t
JOIN treatmentPlans tp ON t.treatmentPlanId = tp.id
JOIN patients p ON tp.patientId = p.id
JOIN clinics c ON tp.clinicId = c.id
WHERE %s
ORDER BY t.createdAt DESC`, strings.Join(where, "\n  AND "))

	res := exec.Execute(ctx, query, params...)
	if !res.Success {
		return failed(kind, "Query failed: %s", res.Error)
	}

	groups := a.group(res.Data, kind, search)

	if kind == TreatmentsByName {
		total := 0
		var variations []string
		for _, g := range groups {
			total += g.teeth
			variations = append(variations, g.variations...)
		}
		out := Result{
			Success:      true,
			AnalysisType: kind,
			SearchTerm:   search,
			TotalCount:   &total,
			Variations:   variations,
			Data:         []TreatmentCount{},
			Summary:      searchSummary(search, total),
		}
		if total == 0 {
			out.Suggestion = suggestionFor(search)
		}
		return out
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if kind == TreatmentsLeastCommon {
			return groups[i].teeth < groups[j].teeth
		}
		return groups[i].teeth > groups[j].teeth
	})

	limit := clampLimit(args.Limit, 10, 500)
	data := make([]TreatmentCount, 0, min(limit, len(groups)))
	for _, g := range groups {
		if len(data) == limit {
			break
		}
		data = append(data, TreatmentCount{TreatmentName: g.name, TotalTreatments: g.teeth, ProceduresDone: g.procedures})
	}

	return Result{
		Success:      true,
		AnalysisType: kind,
		TotalResults: len(groups),
		Data:         data,
		Summary:      rankingSummary(kind, groups),
	}
}

// group folds rows by normalized name in first-seen order.
func (a *TreatmentAnalyzer) group(rows []map[string]any, kind, search string) []*treatmentGroup {
	var order []*treatmentGroup
	byName := make(map[string]*treatmentGroup)
	for _, row := range rows {
		original := toString(row["treatment_name"])
		normalized := a.synonyms.Normalize(original)
		if kind == TreatmentsByName && !a.synonyms.Matches(search, original, normalized) {
			continue
		}
		g, ok := byName[normalized]
		if !ok {
			g = &treatmentGroup{name: normalized}
			byName[normalized] = g
			order = append(order, g)
		}
		g.teeth += ToothCount(original)
		g.procedures++
		if !slices.Contains(g.variations, original) {
			g.variations = append(g.variations, original)
		}
	}
	return order
}

func searchSummary(search string, total int) string {
	switch total {
	case 0:
		return fmt.Sprintf("No %s treatments found in your records.", search)
	case 1:
		return fmt.Sprintf("You have performed 1 %s treatment.", search)
	default:
		return fmt.Sprintf("You have performed %d %s treatments.", total, search)
	}
}

func rankingSummary(kind string, groups []*treatmentGroup) string {
	if len(groups) == 0 {
		return "No treatments found in your records."
	}
	switch kind {
	case TreatmentsMostCommon:
		return fmt.Sprintf("The most commonly performed treatment is %s, with a total of %d treatments.", groups[0].name, groups[0].teeth)
	case TreatmentsLeastCommon:
		n := groups[0].teeth
		return fmt.Sprintf("The least commonly performed treatment is %s, with %d %s.", groups[0].name, n, plural(n, "treatment"))
	default:
		total := 0
		for _, g := range groups {
			total += g.teeth
		}
		return fmt.Sprintf("You have performed a total of %d treatments across %d different treatment types.", total, len(groups))
	}
}

func suggestionFor(search string) string {
	s := strings.ToLower(search)
	switch {
	case strings.Contains(s, "wisdom"), strings.Contains(s, "impaction"):
		return "You may want to check for 'extraction' treatments."
	case strings.Contains(s, "rct"), strings.Contains(s, "root canal"):
		return "You may want to check for 'endodontic' treatments."
	case strings.Contains(s, "crown"), strings.Contains(s, "cap"):
		return "You may want to check for 'restoration' treatments."
	case strings.Contains(s, "filling"), strings.Contains(s, "restoration"):
		return "You may want to check for 'composite' or 'GIC' treatments."
	default:
		return "Try searching for similar treatment names or check your treatment list."
	}
}
