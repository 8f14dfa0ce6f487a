// Package storage persists job records, technicians, predictions, the
// appliance catalog, and serialized pipeline state in a single SQLite
// database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for jobs, technicians,
// predictions, the appliance catalog, and the job-state KV store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "solarsync.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Jobs ---

const jobColumns = `id, user_id, description, system_type, battery_type, status, priority,
	position_lat, position_lon, appliances_json, contact_json, address_json,
	load_demand_kwh, peak_sun_hours, panel_capacity_kw, battery_capacity_kwh, inverter_capacity_kw,
	panels_required, batteries_required, inverters_required, daily_output_kwh, excess_kwh,
	panel_cost_ksh, battery_cost_ksh, inverter_cost_ksh, install_cost_ksh, total_cost_ksh,
	roi_years, system_efficiency, technician_id, technician_name, technician_login,
	scheduled_start, scheduled_end, actual_end, feedback, last_weather_check, last_peak_sun_hours,
	date_created, date_modified`

func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// Lifecycle statuses mirrored here so storage can enforce one-directional
// transitions without importing the pipeline packages.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// UpsertJob inserts the job or updates every mutable field of an existing
// record inside one transaction. Lifecycle status never regresses: an update
// carrying an earlier status keeps the stored one.
func (s *Store) UpsertJob(job Job) (Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Job{}, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingStatus, existingCreated string
	err = tx.QueryRow("SELECT status, date_created FROM jobs WHERE id = ?", job.ID).Scan(&existingStatus, &existingCreated)
	switch {
	case err == sql.ErrNoRows:
		if job.DateCreated.IsZero() {
			job.DateCreated = now
		}
	case err != nil:
		return Job{}, fmt.Errorf("reading existing job: %w", err)
	default:
		if statusRank(job.Status) < statusRank(existingStatus) {
			job.Status = existingStatus
		}
		created, perr := time.Parse(time.RFC3339, existingCreated)
		if perr != nil {
			return Job{}, fmt.Errorf("parsing date_created for job %s: %w", job.ID, perr)
		}
		job.DateCreated = created
	}
	job.DateModified = now

	_, err = tx.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, description = excluded.description,
			system_type = excluded.system_type, battery_type = excluded.battery_type,
			status = excluded.status, priority = excluded.priority,
			position_lat = excluded.position_lat, position_lon = excluded.position_lon,
			appliances_json = excluded.appliances_json, contact_json = excluded.contact_json,
			address_json = excluded.address_json, load_demand_kwh = excluded.load_demand_kwh,
			peak_sun_hours = excluded.peak_sun_hours, panel_capacity_kw = excluded.panel_capacity_kw,
			battery_capacity_kwh = excluded.battery_capacity_kwh, inverter_capacity_kw = excluded.inverter_capacity_kw,
			panels_required = excluded.panels_required, batteries_required = excluded.batteries_required,
			inverters_required = excluded.inverters_required, daily_output_kwh = excluded.daily_output_kwh,
			excess_kwh = excluded.excess_kwh, panel_cost_ksh = excluded.panel_cost_ksh,
			battery_cost_ksh = excluded.battery_cost_ksh, inverter_cost_ksh = excluded.inverter_cost_ksh,
			install_cost_ksh = excluded.install_cost_ksh, total_cost_ksh = excluded.total_cost_ksh,
			roi_years = excluded.roi_years, system_efficiency = excluded.system_efficiency,
			technician_id = excluded.technician_id, technician_name = excluded.technician_name,
			technician_login = excluded.technician_login, scheduled_start = excluded.scheduled_start,
			scheduled_end = excluded.scheduled_end, actual_end = excluded.actual_end,
			feedback = excluded.feedback, last_weather_check = excluded.last_weather_check,
			last_peak_sun_hours = excluded.last_peak_sun_hours, date_modified = excluded.date_modified`,
		job.ID, job.UserID, job.Description, job.SystemType, job.BatteryType, job.Status, job.Priority,
		job.PositionLat, job.PositionLon, job.AppliancesJSON, job.ContactJSON, job.AddressJSON,
		job.LoadDemandKwh, job.PeakSunHours, job.PanelCapacityKw, job.BatteryCapacityKwh, job.InverterCapacityKw,
		job.PanelsRequired, job.BatteriesRequired, job.InvertersRequired, job.DailyOutputKwh, job.ExcessKwh,
		job.PanelCostKsh, job.BatteryCostKsh, job.InverterCostKsh, job.InstallCostKsh, job.TotalCostKsh,
		job.RoiYears, job.SystemEfficiency, job.TechnicianID, job.TechnicianName, job.TechnicianLogin,
		job.ScheduledStart, job.ScheduledEnd, timePtrString(job.ActualEnd), job.Feedback,
		timePtrString(job.LastWeatherCheck), job.LastPeakSunHours,
		job.DateCreated.UTC().Format(time.RFC3339), job.DateModified.Format(time.RFC3339),
	)
	if err != nil {
		return Job{}, fmt.Errorf("upserting job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("committing upsert: %w", err)
	}
	return job, nil
}

// GetJob returns the job record with the given id, or ErrNotFound.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// ListJobsByStatus returns jobs whose status is one of the given values,
// newest first.
func (s *Store) ListJobsByStatus(statuses ...string) ([]Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat(",?", len(statuses)-1)
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.Query("SELECT "+jobColumns+" FROM jobs WHERE status IN (?"+placeholders+") ORDER BY date_created DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var actualEnd, lastCheck sql.NullString
	var created, modified string
	err := row.Scan(
		&j.ID, &j.UserID, &j.Description, &j.SystemType, &j.BatteryType, &j.Status, &j.Priority,
		&j.PositionLat, &j.PositionLon, &j.AppliancesJSON, &j.ContactJSON, &j.AddressJSON,
		&j.LoadDemandKwh, &j.PeakSunHours, &j.PanelCapacityKw, &j.BatteryCapacityKwh, &j.InverterCapacityKw,
		&j.PanelsRequired, &j.BatteriesRequired, &j.InvertersRequired, &j.DailyOutputKwh, &j.ExcessKwh,
		&j.PanelCostKsh, &j.BatteryCostKsh, &j.InverterCostKsh, &j.InstallCostKsh, &j.TotalCostKsh,
		&j.RoiYears, &j.SystemEfficiency, &j.TechnicianID, &j.TechnicianName, &j.TechnicianLogin,
		&j.ScheduledStart, &j.ScheduledEnd, &actualEnd, &j.Feedback, &lastCheck, &j.LastPeakSunHours,
		&created, &modified,
	)
	if err != nil {
		return Job{}, err
	}
	if j.DateCreated, err = time.Parse(time.RFC3339, created); err != nil {
		return Job{}, fmt.Errorf("parsing date_created: %w", err)
	}
	if j.DateModified, err = time.Parse(time.RFC3339, modified); err != nil {
		return Job{}, fmt.Errorf("parsing date_modified: %w", err)
	}
	if j.ActualEnd, err = parseTimePtr(actualEnd); err != nil {
		return Job{}, fmt.Errorf("parsing actual_end: %w", err)
	}
	if j.LastWeatherCheck, err = parseTimePtr(lastCheck); err != nil {
		return Job{}, fmt.Errorf("parsing last_weather_check: %w", err)
	}
	return j, nil
}

func timePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Technicians ---

// UpsertTechnician inserts or replaces a roster entry.
func (s *Store) UpsertTechnician(t Technician) error {
	_, err := s.db.Exec(`
		INSERT INTO technicians (id, first_name, last_name, email, phone, skills, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name, last_name = excluded.last_name,
			email = excluded.email, phone = excluded.phone,
			skills = excluded.skills, lat = excluded.lat, lon = excluded.lon`,
		t.ID, t.FirstName, t.LastName, t.Email, t.Phone, t.Skills, t.Lat, t.Lon,
	)
	return err
}

// GetTechnician returns the roster entry with the given id, or ErrNotFound.
func (s *Store) GetTechnician(id string) (Technician, error) {
	var t Technician
	err := s.db.QueryRow(`
		SELECT id, first_name, last_name, email, phone, skills, lat, lon
		FROM technicians WHERE id = ?`, id,
	).Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Skills, &t.Lat, &t.Lon)
	if err == sql.ErrNoRows {
		return Technician{}, ErrNotFound
	}
	return t, err
}

// ListTechnicians returns the whole roster.
func (s *Store) ListTechnicians() ([]Technician, error) {
	rows, err := s.db.Query("SELECT id, first_name, last_name, email, phone, skills, lat, lon FROM technicians ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Technician
	for rows.Next() {
		var t Technician
		if err := rows.Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Skills, &t.Lat, &t.Lon); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Predictions ---

// AppendPrediction records one immutable triage outcome for a job.
func (s *Store) AppendPrediction(p Prediction) (Prediction, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO predictions (job_id, priority, duration_hours, labor_ksh, transport_ksh, diagnosis, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.JobID, p.Priority, p.DurationHours, p.LaborKsh, p.TransportKsh, p.Diagnosis,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return Prediction{}, fmt.Errorf("appending prediction for job %s: %w", p.JobID, err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Prediction{}, err
	}
	return p, nil
}

// ListPredictions returns a job's triage outcomes, oldest first.
func (s *Store) ListPredictions(jobID string) ([]Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, priority, duration_hours, labor_ksh, transport_ksh, diagnosis, created_at
		FROM predictions WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var createdAt string
		if err := rows.Scan(&p.ID, &p.JobID, &p.Priority, &p.DurationHours, &p.LaborKsh, &p.TransportKsh, &p.Diagnosis, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Catalog ---

// UpsertCatalogEntry stores an appliance wattage override.
func (s *Store) UpsertCatalogEntry(e CatalogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO catalog (name, power_w) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET power_w = excluded.power_w`,
		strings.ToLower(e.Name), e.PowerW,
	)
	return err
}

// ListCatalog returns all persisted wattage overrides as a name -> watts map.
func (s *Store) ListCatalog() (map[string]float64, error) {
	rows, err := s.db.Query("SELECT name, power_w FROM catalog")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var powerW float64
		if err := rows.Scan(&name, &powerW); err != nil {
			return nil, err
		}
		out[name] = powerW
	}
	return out, rows.Err()
}

// --- Job state KV (the State Store) ---

// SaveJobState stores the serialized pipeline state for a job with the given
// time-to-live.
func (s *Store) SaveJobState(jobID string, stateJSON []byte, ttl time.Duration) error {
	if jobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	expires := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO job_states (job_id, state_json, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET state_json = excluded.state_json, expires_at = excluded.expires_at`,
		jobID, string(stateJSON), expires,
	)
	return err
}

// LoadJobState returns the serialized pipeline state for a job. Expired
// entries are purged and reported as ErrNotFound.
func (s *Store) LoadJobState(jobID string) ([]byte, error) {
	var stateJSON, expiresAt string
	err := s.db.QueryRow("SELECT state_json, expires_at FROM job_states WHERE job_id = ?", jobID).Scan(&stateJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at for job %s: %w", jobID, err)
	}
	if !expires.After(time.Now().UTC()) {
		s.db.Exec("DELETE FROM job_states WHERE job_id = ?", jobID)
		return nil, ErrNotFound
	}
	return []byte(stateJSON), nil
}

// DeleteJobState removes a job's serialized pipeline state.
func (s *Store) DeleteJobState(jobID string) error {
	_, err := s.db.Exec("DELETE FROM job_states WHERE job_id = ?", jobID)
	return err
}
