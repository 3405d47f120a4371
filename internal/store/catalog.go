package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"dosu/internal/models"
)

// Dosutypes lists the available treatment types for a patient keyed by id.
// The blocked placeholder patient only gets the "off" types, everyone else
// never does.
func (db *DB) Dosutypes(ctx context.Context, patientID int64) (map[string]models.Dosutype, error) {
	p, err := db.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	op := "NOT LIKE"
	if p.MRN == models.BlockedMRN {
		op = "LIKE"
	}
	rows, err := db.QueryContext(ctx, `SELECT id, name, order_code, slot_quantity, price, available
        FROM dosutypes WHERE available = 1 AND name `+op+` 'off%' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get dosutypes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Dosutype)
	for rows.Next() {
		var d models.Dosutype
		if err := rows.Scan(&d.ID, &d.Name, &d.OrderCode, &d.SlotQuantity, &d.Price, &d.Available); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(d.ID, 10)] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dosutypes for patient %d: %w", patientID, ErrNotFound)
	}
	return out, nil
}

func (db *DB) Patient(ctx context.Context, id int64) (*models.Patient, error) {
	var p models.Patient
	err := db.QueryRowContext(ctx, `SELECT id, mrn, name, sex, tel, note FROM patients WHERE id = ?`, id).
		Scan(&p.ID, &p.MRN, &p.Name, &p.Sex, &p.Tel, &p.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

// UpsertPatient creates p or updates the patient with the same MRN.
func (db *DB) UpsertPatient(ctx context.Context, p *models.Patient) error {
	err := db.QueryRowContext(ctx, `INSERT INTO patients (mrn, name, sex, tel, note) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(mrn) DO UPDATE SET name = excluded.name, sex = excluded.sex, tel = excluded.tel, note = excluded.note
        RETURNING id`,
		p.MRN, p.Name, p.Sex, p.Tel, p.Note).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to save patient %d: %w", p.MRN, err)
	}
	return nil
}

func (db *DB) CreateWorker(ctx context.Context, w *models.Worker) error {
	if !models.ValidRoom(w.Room) {
		return fmt.Errorf("invalid room %d", w.Room)
	}
	res, err := db.ExecContext(ctx, `INSERT INTO workers (name, room, available) VALUES (?, ?, ?)`, w.Name, w.Room, w.Available)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	w.ID, err = res.LastInsertId()
	return err
}

// UpsertDosutype creates d or updates the type with the same name.
func (db *DB) UpsertDosutype(ctx context.Context, d *models.Dosutype) error {
	if d.SlotQuantity < 1 {
		return fmt.Errorf("dosutype %q: slot quantity must be positive", d.Name)
	}
	err := db.QueryRowContext(ctx, `INSERT INTO dosutypes (name, order_code, slot_quantity, price, available) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET order_code = excluded.order_code, slot_quantity = excluded.slot_quantity,
            price = excluded.price, available = excluded.available
        RETURNING id`,
		d.Name, d.OrderCode, d.SlotQuantity, d.Price, d.Available).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to save dosutype %q: %w", d.Name, err)
	}
	return nil
}

// EnsureDefaults creates the blocked placeholder patient and the "off"
// dosutypes used to block rooms.
func (db *DB) EnsureDefaults(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `INSERT INTO patients (mrn, name, sex, tel, note)
        VALUES (?, 'blocked', '', '', 'placeholder for blocked slots') ON CONFLICT(mrn) DO NOTHING`, models.BlockedMRN); err != nil {
		return fmt.Errorf("failed to create blocked patient: %w", err)
	}

	defaults := []models.Dosutype{
		{Name: "off", OrderCode: "off", SlotQuantity: 100, Available: true},
		{Name: "off-half", OrderCode: "off-half", SlotQuantity: 8, Available: true},
		{Name: "off-1slot", OrderCode: "off-1slot", SlotQuantity: 1, Available: true},
	}
	for _, d := range defaults {
		if _, err := db.ExecContext(ctx, `INSERT INTO dosutypes (name, order_code, slot_quantity, price, available)
            VALUES (?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			d.Name, d.OrderCode, d.SlotQuantity, d.Price, d.Available); err != nil {
			return fmt.Errorf("failed to create dosutype %q: %w", d.Name, err)
		}
	}
	return nil
}
