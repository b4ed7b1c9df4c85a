package resolvers

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	AppointmentsTotalCount = "total_count"
	AppointmentsByDate     = "by_date"
	AppointmentsByRange    = "by_date_range"
	AppointmentsByStatus   = "by_status"
	AppointmentsByClinic   = "by_clinic"
	AppointmentsByPatient  = "by_patient"
	AppointmentsList       = "list_appointments"
)

var AppointmentAnalysisTypes = []string{
	AppointmentsTotalCount, AppointmentsByDate, AppointmentsByRange, AppointmentsByStatus,
	AppointmentsByClinic, AppointmentsByPatient, AppointmentsList,
}

var AppointmentStatuses = []string{"scheduled", "upcoming", "completed", "visited", "canceled", "cancelled", "missed"}

type AppointmentArgs struct {
	AnalysisType string `json:"analysisType"`
	Date         string `json:"date,omitempty"`
	StartDate    string `json:"startDate,omitempty"`
	EndDate      string `json:"endDate,omitempty"`
	Status       string `json:"status,omitempty"`
	PatientID    ID     `json:"patientId,omitempty"`
	ClinicID     ID     `json:"clinicId,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

const appointmentsFrom = `
FROM visitors v
JOIN patients p ON v.patientId = p.id
JOIN clinics c ON v.clinicId = c.id`

const statusCase = `CASE
    WHEN v.isCanceled = TRUE THEN 'Canceled'
    WHEN v.isVisited = TRUE THEN 'Completed'
    WHEN v.date >= CURDATE() THEN 'Upcoming'
    WHEN v.date < CURDATE() AND v.isVisited = FALSE THEN 'Missed'
    ELSE 'Unknown'
  END`

// AnalyzeAppointments answers the common appointment questions with a
// parameterized query scoped to tenantID through patients.userId.
func AnalyzeAppointments(ctx context.Context, exec Executor, tenantID uint64, args AppointmentArgs) Result {
	kind := strings.ToLower(strings.TrimSpace(args.AnalysisType))
	if kind == "" {
		kind = AppointmentsTotalCount
	}
	if !slices.Contains(AppointmentAnalysisTypes, kind) {
		return failed(kind, "unsupported analysisType %q", args.AnalysisType)
	}
	if err := validDates(args.Date, args.StartDate, args.EndDate); err != nil {
		return failed(kind, "%v", err)
	}

	where := []string{"p.userId = ?"}
	params := []any{tenantID}
	var dateLabel string

	switch {
	case kind == AppointmentsByDate:
		if args.Date == "" {
			return failed(kind, "date is required for %s", kind)
		}
		where = append(where, "DATE(v.date) = ?")
		params = append(params, args.Date)
		dateLabel = args.Date
	case kind == AppointmentsByRange:
		if args.StartDate == "" || args.EndDate == "" {
			return failed(kind, "startDate and endDate are required for %s", kind)
		}
		where = append(where, "DATE(v.date) >= ?", "DATE(v.date) <= ?")
		params = append(params, args.StartDate, args.EndDate)
		dateLabel = args.StartDate + " and " + args.EndDate
	case args.StartDate != "" && args.EndDate != "":
		where = append(where, "DATE(v.date) >= ?", "DATE(v.date) <= ?")
		params = append(params, args.StartDate, args.EndDate)
		dateLabel = args.StartDate + " to " + args.EndDate
	case args.Date != "":
		where = append(where, "DATE(v.date) = ?")
		params = append(params, args.Date)
		dateLabel = args.Date
	}

	statusLabel, statusWhere, err := statusPredicates(args.Status)
	if err != nil {
		return failed(kind, "%v", err)
	}
	where = append(where, statusWhere...)

	patientIDs, err := idList("patientId", args.PatientID)
	if err != nil {
		return failed(kind, "%v", err)
	}
	if len(patientIDs) > 0 {
		where = append(where, inClause("v.patientId", patientIDs))
		params = append(params, patientIDs...)
	}
	clinicIDs, err := idList("clinicId", args.ClinicID)
	if err != nil {
		return failed(kind, "%v", err)
	}
	if len(clinicIDs) > 0 {
		where = append(where, inClause("v.clinicId", clinicIDs))
		params = append(params, clinicIDs...)
	}

	where = append(where, "v.deletedAt IS NULL", "p.deletedAt IS NULL", "c.deletedAt IS NULL")
	limit := clampLimit(args.Limit, 100, 1000)
	query := appointmentQuery(kind, strings.Join(where, "\n  AND "), limit)

	res := exec.Execute(ctx, query, params...)
	if !res.Success {
		return failed(kind, "Query failed: %s", res.Error)
	}
	rows := res.Data

	if kind == AppointmentsTotalCount {
		count := 0
		if len(rows) > 0 {
			count = toInt(rows[0]["count"])
		}
		return Result{
			Success:      true,
			AnalysisType: kind,
			TotalCount:   &count,
			Data:         []map[string]any{},
			Summary:      fmt.Sprintf("You have a total of %d %s.", count, plural(count, "appointment")),
		}
	}

	return Result{
		Success:      true,
		AnalysisType: kind,
		TotalResults: len(rows),
		Data:         rows,
		Summary:      appointmentSummary(kind, rows, dateLabel, statusLabel),
	}
}

// statusPredicates maps a status word to its visitors predicates. No status
// means every appointment that was not canceled.
func statusPredicates(status string) (string, []string, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
		return "", []string{"v.isCanceled = FALSE"}, nil
	case "scheduled":
		return "scheduled", []string{"v.isCanceled = FALSE", "v.isVisited = FALSE", "v.date >= CURDATE()"}, nil
	case "upcoming":
		return "upcoming", []string{"v.isCanceled = FALSE", "v.isVisited = FALSE", "v.date >= CURDATE()"}, nil
	case "completed", "visited":
		return "completed", []string{"v.isVisited = TRUE", "v.isCanceled = FALSE"}, nil
	case "canceled", "cancelled":
		return "canceled", []string{"v.isCanceled = TRUE"}, nil
	case "missed":
		return "missed", []string{"v.date < CURDATE()", "v.isVisited = FALSE", "v.isCanceled = FALSE"}, nil
	default:
		return "", nil, fmt.Errorf("unsupported status %q", status)
	}
}

func appointmentQuery(kind, where string, limit int) string {
	switch kind {
	case AppointmentsByDate, AppointmentsByRange:
		return fmt.Sprintf(`SELECT
  DATE_FORMAT(v.date, '%%Y-%%m-%%d') AS appointment_date,
  COUNT(*) AS count,
  SUM(CASE WHEN v.isVisited = TRUE THEN 1 ELSE 0 END) AS completed,
  SUM(CASE WHEN v.isCanceled = TRUE THEN 1 ELSE 0 END) AS canceled,
  SUM(CASE WHEN v.date >= CURDATE() AND v.isVisited = FALSE AND v.isCanceled = FALSE THEN 1 ELSE 0 END) AS upcoming%s
WHERE %s
GROUP BY DATE(v.date)
ORDER BY DATE(v.date) DESC
LIMIT %d`, appointmentsFrom, where, limit)

	case AppointmentsByStatus:
		return fmt.Sprintf(`SELECT
  %s AS status,
  COUNT(*) AS count%s
WHERE %s
GROUP BY status
ORDER BY count DESC`, statusCase, appointmentsFrom, where)

	case AppointmentsByClinic:
		return fmt.Sprintf(`SELECT
  c.name AS clinic_name,
  COUNT(*) AS total_appointments,
  SUM(CASE WHEN v.isVisited = TRUE THEN 1 ELSE 0 END) AS completed,
  SUM(CASE WHEN v.isCanceled = TRUE THEN 1 ELSE 0 END) AS canceled,
  SUM(CASE WHEN v.date >= CURDATE() AND v.isVisited = FALSE AND v.isCanceled = FALSE THEN 1 ELSE 0 END) AS upcoming%s
WHERE %s
GROUP BY c.id, c.name
ORDER BY total_appointments DESC
LIMIT %d`, appointmentsFrom, where, limit)

	case AppointmentsByPatient:
		return fmt.Sprintf(`SELECT
  p.name AS patient_name,
  COUNT(*) AS total_appointments,
  SUM(CASE WHEN v.isVisited = TRUE THEN 1 ELSE 0 END) AS completed,
  SUM(CASE WHEN v.isCanceled = TRUE THEN 1 ELSE 0 END) AS canceled,
  MAX(DATE_FORMAT(v.date, '%%Y-%%m-%%d')) AS last_appointment_date%s
WHERE %s
GROUP BY p.id, p.name
ORDER BY total_appointments DESC
LIMIT %d`, appointmentsFrom, where, limit)

	case AppointmentsList:
		return fmt.Sprintf(`SELECT
  DATE_FORMAT(v.date, '%%Y-%%m-%%d') AS appointment_date,
  p.name AS patient_name,
  c.name AS clinic_name,
  %s AS status%s
WHERE %s
ORDER BY v.date DESC
LIMIT %d`, statusCase, appointmentsFrom, where, limit)

	default:
		return fmt.Sprintf(`SELECT COUNT(*) AS count%s
WHERE %s`, appointmentsFrom, where)
	}
}

func appointmentSummary(kind string, rows []map[string]any, dateLabel, statusLabel string) string {
	total := 0
	for _, r := range rows {
		if v, ok := r["count"]; ok {
			total += toInt(v)
		} else {
			total += toInt(r["total_appointments"])
		}
	}

	switch kind {
	case AppointmentsByDate:
		if len(rows) == 0 {
			return fmt.Sprintf("No appointments found on %s.", dateLabel)
		}
		return fmt.Sprintf("You have %d %s on %s.", total, plural(total, "appointment"), dateLabel)
	case AppointmentsByRange:
		if len(rows) == 0 {
			return fmt.Sprintf("No appointments found between %s.", dateLabel)
		}
		return fmt.Sprintf("You have %d %s between %s.", total, plural(total, "appointment"), dateLabel)
	case AppointmentsByStatus:
		if len(rows) == 0 {
			if statusLabel == "" {
				return "No appointments found."
			}
			return fmt.Sprintf("No %s appointments found.", statusLabel)
		}
		if statusLabel == "" {
			return fmt.Sprintf("You have %d %s.", total, plural(total, "appointment"))
		}
		return fmt.Sprintf("You have %d %s %s.", total, statusLabel, plural(total, "appointment"))
	case AppointmentsByClinic:
		if len(rows) == 0 {
			return "No appointments found for any clinic."
		}
		return "Appointment breakdown by clinic."
	case AppointmentsByPatient:
		if len(rows) == 0 {
			return "No appointments found for this patient."
		}
		return fmt.Sprintf("Patient has %d %s.", total, plural(total, "appointment"))
	default:
		if len(rows) == 0 {
			return "No appointments found."
		}
		return fmt.Sprintf("Found %d %s.", len(rows), plural(len(rows), "appointment"))
	}
}
