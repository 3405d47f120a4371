package store

import (
	"context"
	"fmt"
	"os"

	"dosu/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed is the fixture file format of the development backend.
type Seed struct {
	Periods   []Period          `yaml:"timeslot_configs"`
	Patients  []models.Patient  `yaml:"patients"`
	Workers   []models.Worker   `yaml:"workers"`
	Dosutypes []models.Dosutype `yaml:"dosutypes"`
	// Appointments reference patients by MRN and dosutypes by name.
	Appointments []SeedAppointment `yaml:"appointments"`
}

type SeedAppointment struct {
	Date     string        `yaml:"date"`
	Room     int           `yaml:"room"`
	Slot     int           `yaml:"slot"`
	MRN      int64         `yaml:"mrn"`
	Dosutype string        `yaml:"dosutype"`
	Status   models.Status `yaml:"status"`
	Note     string        `yaml:"note"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &s, nil
}

// Apply writes the seed into db after the defaults. Workers are only added
// to an empty table so reapplying the seed is harmless; appointments that
// collide with existing ones are logged and skipped.
func (s *Seed) Apply(ctx context.Context, db *DB) error {
	if err := db.EnsureDefaults(ctx); err != nil {
		return err
	}

	for i := range s.Periods {
		if err := db.SavePeriod(ctx, &s.Periods[i]); err != nil {
			return fmt.Errorf("seed timeslot config %q: %w", s.Periods[i].Name, err)
		}
	}

	patients := make(map[int64]int64, len(s.Patients))
	for i := range s.Patients {
		p := &s.Patients[i]
		if err := db.UpsertPatient(ctx, p); err != nil {
			return err
		}
		patients[p.MRN] = p.ID
	}

	var workers int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers`).Scan(&workers); err != nil {
		return fmt.Errorf("count workers: %w", err)
	}
	if workers == 0 {
		for i := range s.Workers {
			if err := db.CreateWorker(ctx, &s.Workers[i]); err != nil {
				return err
			}
		}
	}

	types := make(map[string]int64, len(s.Dosutypes))
	for i := range s.Dosutypes {
		d := &s.Dosutypes[i]
		if err := db.UpsertDosutype(ctx, d); err != nil {
			return err
		}
		types[d.Name] = d.ID
	}
	if err := db.lookupDefaults(ctx, patients, types); err != nil {
		return err
	}

	for _, sa := range s.Appointments {
		patientID, ok := patients[sa.MRN]
		if !ok {
			return fmt.Errorf("seed appointment on %s: unknown mrn %d", sa.Date, sa.MRN)
		}
		typeID, ok := types[sa.Dosutype]
		if !ok {
			return fmt.Errorf("seed appointment on %s: unknown dosutype %q", sa.Date, sa.Dosutype)
		}
		a := &models.AppointmentDetail{
			Appointment: models.Appointment{
				Date:   sa.Date,
				Room:   sa.Room,
				Slot:   sa.Slot,
				Status: sa.Status,
				Note:   sa.Note,
			},
			DosutypeID: typeID,
			PatientID:  patientID,
		}
		if err := db.CreateAppointment(ctx, a); err != nil {
			db.logger.Warn().Err(err).Str("date", sa.Date).Int("room", sa.Room).Int("slot", sa.Slot).Msg("Skipping seed appointment")
		}
	}
	return nil
}

// lookupDefaults adds the rows created by EnsureDefaults to the seed indexes.
func (db *DB) lookupDefaults(ctx context.Context, patients map[int64]int64, types map[string]int64) error {
	if _, ok := patients[models.BlockedMRN]; !ok {
		var id int64
		if err := db.QueryRowContext(ctx, `SELECT id FROM patients WHERE mrn = ?`, models.BlockedMRN).Scan(&id); err != nil {
			return fmt.Errorf("lookup blocked patient: %w", err)
		}
		patients[models.BlockedMRN] = id
	}

	rows, err := db.QueryContext(ctx, `SELECT id, name FROM dosutypes WHERE name LIKE 'off%'`)
	if err != nil {
		return fmt.Errorf("lookup off dosutypes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		if _, ok := types[name]; !ok {
			types[name] = id
		}
	}
	return rows.Err()
}
