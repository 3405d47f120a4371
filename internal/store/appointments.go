package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dosu/internal/models"
	"dosu/internal/slots"
)

const detailColumns = `a.id, a.date, a.room, a.slot, a.slot_quantity, a.status, a.note, a.price,
        d.id, d.name, w.id, w.name, p.id, p.mrn, p.name, p.tel, p.note`

const detailJoins = `FROM appointments a
        JOIN dosutypes d ON d.id = a.dosutype_id
        JOIN workers w ON w.id = a.worker_id
        JOIN patients p ON p.id = a.patient_id`

// AppointmentsOn lists every appointment of date regardless of status.
// Active entries come last so they win where a canceled one overlaps.
func (db *DB) AppointmentsOn(ctx context.Context, date time.Time) ([]models.Appointment, error) {
	query := `SELECT ` + detailColumns + ` ` + detailJoins + `
        WHERE a.date = ?
        ORDER BY a.status = 'active', a.id`
	details, err := db.queryDetails(ctx, query, date.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointments on %s: %w", date.Format(models.DateLayout), err)
	}
	out := make([]models.Appointment, 0, len(details))
	for _, d := range details {
		out = append(out, d.Appointment)
	}
	return out, nil
}

// AppointmentsInMonth groups the month's appointments by day of month.
// Days without appointments are absent.
func (db *DB) AppointmentsInMonth(ctx context.Context, year int, month time.Month) (map[string][]models.Appointment, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	query := `SELECT ` + detailColumns + ` ` + detailJoins + `
        WHERE a.date BETWEEN ? AND ?
        ORDER BY a.date, a.status = 'active', a.id`
	details, err := db.queryDetails(ctx, query, first.Format(models.DateLayout), last.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointments of %d-%02d: %w", year, month, err)
	}

	out := make(map[string][]models.Appointment)
	for _, d := range details {
		day, err := d.Day(time.UTC)
		if err != nil {
			return nil, fmt.Errorf("appointment %d: %w", d.ID, err)
		}
		key := strconv.Itoa(day.Day())
		out[key] = append(out[key], d.Appointment)
	}
	return out, nil
}

// AppointmentDetail returns the display record of one appointment.
func (db *DB) AppointmentDetail(ctx context.Context, id int64) (*models.AppointmentDetail, error) {
	query := `SELECT ` + detailColumns + ` ` + detailJoins + ` WHERE a.id = ?`
	details, err := db.queryDetails(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment %d: %w", id, err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	d := details[0]

	day, err := d.Day(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("appointment %d: %w", id, err)
	}
	cfg, err := db.TimeslotConfig(ctx, day.Year(), day.Month())
	if err != nil {
		return nil, err
	}
	d.DateDisplay = day.Format("2006-01-02 (Mon)")
	d.SlotDisplay = slotDisplay(cfg, d.Room, day, d.Slot)
	return &d, nil
}

// CreateAppointment books a. Slot quantity and price default to the
// dosutype's, the worker to the first available one of the room. The
// booking fails with ErrSlotTaken when it overlaps an active appointment.
func (db *DB) CreateAppointment(ctx context.Context, a *models.AppointmentDetail) error {
	if !models.ValidRoom(a.Room) {
		return fmt.Errorf("invalid room %d", a.Room)
	}
	if _, err := time.Parse(models.DateLayout, a.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", a.Date, err)
	}
	if a.Status == "" {
		a.Status = models.StatusActive
	}
	if !a.Status.Known() {
		return fmt.Errorf("unknown status %q", a.Status)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var dt models.Dosutype
	err = tx.QueryRowContext(ctx, `SELECT id, name, slot_quantity, price FROM dosutypes WHERE id = ?`, a.DosutypeID).
		Scan(&dt.ID, &dt.Name, &dt.SlotQuantity, &dt.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dosutype %d: %w", a.DosutypeID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get dosutype: %w", err)
	}
	if a.SlotQuantity == 0 {
		a.SlotQuantity = dt.SlotQuantity
	}
	if a.Price == 0 {
		a.Price = dt.Price
	}
	if a.Slot < 0 || a.SlotQuantity < 1 {
		return fmt.Errorf("invalid span slot %d quantity %d", a.Slot, a.SlotQuantity)
	}

	err = tx.QueryRowContext(ctx, `SELECT mrn, name FROM patients WHERE id = ?`, a.PatientID).Scan(&a.MRN, &a.PatientName)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("patient %d: %w", a.PatientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get patient: %w", err)
	}

	if a.WorkerID == 0 {
		err = tx.QueryRowContext(ctx, `SELECT id, name FROM workers WHERE room = ? AND available = 1 ORDER BY id LIMIT 1`, a.Room).
			Scan(&a.WorkerID, &a.WorkerName)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("room %d: %w", a.Room, ErrNoWorker)
		}
		if err != nil {
			return fmt.Errorf("failed to get worker: %w", err)
		}
	}

	if a.Status == models.StatusActive {
		var overlapping int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments
                WHERE date = ? AND room = ? AND status = 'active'
                AND slot < ? AND slot + slot_quantity > ?`,
			a.Date, a.Room, a.Slot+a.SlotQuantity, a.Slot).Scan(&overlapping)
		if err != nil {
			return fmt.Errorf("failed to check availability in tx: %w", err)
		}
		if overlapping > 0 {
			return fmt.Errorf("%s room %d slot %d: %w", a.Date, a.Room, a.Slot, ErrSlotTaken)
		}
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `INSERT INTO appointments (
                date, room, slot, slot_quantity, dosutype_id, worker_id, patient_id,
                price, status, note, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Date, a.Room, a.Slot, a.SlotQuantity, a.DosutypeID, a.WorkerID, a.PatientID,
		a.Price, a.Status, a.Note, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment in tx: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	a.DosutypeName = dt.Name
	return tx.Commit()
}

// UpdateAppointmentStatus changes the status of an appointment. Canceled and
// no-show appointments free their slots since only active ones occupy.
func (db *DB) UpdateAppointmentStatus(ctx context.Context, id int64, status models.Status) error {
	if !status.Known() {
		return fmt.Errorf("unknown status %q", status)
	}
	res, err := db.ExecContext(ctx, `UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) queryDetails(ctx context.Context, query string, args ...any) ([]models.AppointmentDetail, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AppointmentDetail
	for rows.Next() {
		var d models.AppointmentDetail
		if err := rows.Scan(
			&d.ID, &d.Date, &d.Room, &d.Slot, &d.SlotQuantity, &d.Status, &d.Note, &d.Price,
			&d.DosutypeID, &d.DosutypeName, &d.WorkerID, &d.WorkerName,
			&d.PatientID, &d.MRN, &d.PatientName, &d.Tel, &d.PatientNote,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// slotDisplay renders the start time of slot in the room's day layout.
func slotDisplay(cfg models.TimeslotConfig, room int, day time.Time, slot int) string {
	h, err := cfg.HoursFor(room, day)
	if err != nil {
		return ""
	}
	for s := range slots.Generate(h) {
		if s.Index == slot {
			return s.Display
		}
	}
	return ""
}
