package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dosu/internal/models"
)

// NewPatientCounts tallies, per worker, the patients whose first ever
// appointment is an active one inside the month. Room blocks are not patients.
func (db *DB) NewPatientCounts(ctx context.Context, year int, month time.Month) ([]models.NewPatientCount, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	query := `WITH first_visits AS (
            SELECT patient_id, MIN(date) AS first_date FROM appointments GROUP BY patient_id
        )
        SELECT w.name, COUNT(a.id), GROUP_CONCAT(DISTINCT p.name)
        FROM appointments a
        JOIN first_visits f ON f.patient_id = a.patient_id AND f.first_date = a.date
        JOIN patients p ON p.id = a.patient_id
        JOIN workers w ON w.id = a.worker_id
        WHERE a.date BETWEEN ? AND ? AND a.status = 'active' AND p.mrn <> ?
        GROUP BY w.name
        ORDER BY w.name`
	rows, err := db.QueryContext(ctx, query, first.Format(models.DateLayout), last.Format(models.DateLayout), models.BlockedMRN)
	if err != nil {
		return nil, fmt.Errorf("failed to count new patients: %w", err)
	}
	defer rows.Close()

	var out []models.NewPatientCount
	for rows.Next() {
		var (
			c     models.NewPatientCount
			names sql.NullString
		)
		if err := rows.Scan(&c.WorkerName, &c.Count, &names); err != nil {
			return nil, err
		}
		if names.Valid && names.String != "" {
			c.PatientNames = strings.Split(names.String, ",")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
