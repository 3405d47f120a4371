package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dosu/internal/models"
)

// Period is a stored timeslot configuration and the dates it applies to.
// The default period applies whenever no dated period covers a month.
type Period struct {
	ID        int64                 `yaml:"-"`
	Name      string                `yaml:"name"`
	IsDefault bool                  `yaml:"is_default"`
	StartDate string                `yaml:"start_date"`
	EndDate   string                `yaml:"end_date"`
	Config    models.TimeslotConfig `yaml:"config"`
}

const farFuture = "9999-12-01"

// TimeslotConfig returns the configuration in force on the first day of the
// month. A dated period wins over the default; the default is created when
// nothing is stored yet.
func (db *DB) TimeslotConfig(ctx context.Context, year int, month time.Month) (models.TimeslotConfig, error) {
	day := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format(models.DateLayout)

	query := `SELECT id, name, is_default, start_date, end_date,
                wd_start_hour, wd_end_hour, wd_lunch_start_hour, wd_lunch_end_hour, wd_overtime_hour,
                sd_start_hour, sd_end_hour, sd_overtime_hour, duration, rooms
              FROM timeslot_configs
              WHERE (is_default = 0 AND start_date <= ? AND end_date >= ?) OR is_default = 1
              ORDER BY is_default ASC, start_date DESC
              LIMIT 1`
	p, err := scanPeriod(db.QueryRowContext(ctx, query, day, day))
	if errors.Is(err, sql.ErrNoRows) {
		def := Period{
			Name:      "default",
			IsDefault: true,
			StartDate: day,
			Config:    models.DefaultTimeslotConfig(),
		}
		if err := db.SavePeriod(ctx, &def); err != nil {
			return models.TimeslotConfig{}, err
		}
		db.logger.Info().Str("from", day).Msg("Created default timeslot config")
		return def.Config, nil
	}
	if err != nil {
		return models.TimeslotConfig{}, fmt.Errorf("failed to get timeslot config: %w", err)
	}
	return p.Config, nil
}

// SaveTimeslotConfig replaces the default configuration.
func (db *DB) SaveTimeslotConfig(ctx context.Context, cfg models.TimeslotConfig) error {
	return db.SavePeriod(ctx, &Period{
		Name:      "default",
		IsDefault: true,
		StartDate: time.Now().Format(models.DateLayout),
		Config:    cfg,
	})
}

// SavePeriod inserts p after validating its hours. Saving a default period
// replaces the previous default; dated periods are left alone.
func (db *DB) SavePeriod(ctx context.Context, p *Period) error {
	if err := p.Config.Validate(); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = "default"
	}
	if p.EndDate == "" {
		p.EndDate = farFuture
	}
	for _, d := range []string{p.StartDate, p.EndDate} {
		if _, err := time.Parse(models.DateLayout, d); err != nil {
			return fmt.Errorf("period %q: invalid date %q", p.Name, d)
		}
	}
	rooms, err := encodeRooms(p.Config.Rooms)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `DELETE FROM timeslot_configs WHERE is_default = 1`); err != nil {
			return fmt.Errorf("failed to replace default config: %w", err)
		}
	}

	c := p.Config
	res, err := tx.ExecContext(ctx, `INSERT INTO timeslot_configs (
                name, is_default, start_date, end_date,
                wd_start_hour, wd_end_hour, wd_lunch_start_hour, wd_lunch_end_hour, wd_overtime_hour,
                sd_start_hour, sd_end_hour, sd_overtime_hour, duration, rooms
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.IsDefault, p.StartDate, p.EndDate,
		c.WeekdayStart, c.WeekdayEnd, c.WeekdayLunchStart, c.WeekdayLunchEnd, c.WeekdayOvertime,
		c.SaturdayStart, c.SaturdayEnd, c.SaturdayOvertime, c.Duration, rooms,
	)
	if err != nil {
		return fmt.Errorf("failed to save timeslot config: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	return tx.Commit()
}

func scanPeriod(row *sql.Row) (*Period, error) {
	var (
		p     Period
		rooms sql.NullString
	)
	c := &p.Config
	err := row.Scan(&p.ID, &p.Name, &p.IsDefault, &p.StartDate, &p.EndDate,
		&c.WeekdayStart, &c.WeekdayEnd, &c.WeekdayLunchStart, &c.WeekdayLunchEnd, &c.WeekdayOvertime,
		&c.SaturdayStart, &c.SaturdayEnd, &c.SaturdayOvertime, &c.Duration, &rooms)
	if err != nil {
		return nil, err
	}
	if rooms.Valid && rooms.String != "" {
		if err := json.Unmarshal([]byte(rooms.String), &c.Rooms); err != nil {
			return nil, fmt.Errorf("decode room overrides: %w", err)
		}
	}
	return &p, nil
}

func encodeRooms(rooms map[int]models.TimeslotConfig) (sql.NullString, error) {
	if len(rooms) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(rooms)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode room overrides: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
