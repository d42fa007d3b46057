// Package store provides persistence adapters behind the core store port.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fieldops/fsd/core/model"
	"github.com/fieldops/fsd/core/store"
)

// Postgres implements store.Store on PostgreSQL through the pgx stdlib
// driver. Nested documents (skills, memberships, operating hours) live in
// jsonb columns; everything queried on gets its own column.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings the database.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// InitSchema creates the tables when they do not exist yet. Intended for
// development and tests; production deployments run migrations.
func (p *Postgres) InitSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS resources (
    id          text PRIMARY KEY,
    name        text NOT NULL,
    type        text NOT NULL DEFAULT '',
    active      boolean NOT NULL DEFAULT true,
    priority    integer NOT NULL DEFAULT 0,
    skills      jsonb NOT NULL DEFAULT '{}',
    home        jsonb,
    memberships jsonb NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS appointments (
    id               text PRIMARY KEY,
    work_order_id    text NOT NULL DEFAULT '',
    duration_minutes integer NOT NULL,
    status           text NOT NULL,
    address          text NOT NULL DEFAULT '',
    territory_id     text NOT NULL DEFAULT '',
    coords           jsonb,
    resource_id      text NOT NULL DEFAULT '',
    scheduled_start  timestamptz,
    scheduled_end    timestamptz,
    earliest_start   timestamptz,
    required_skills  jsonb NOT NULL DEFAULT '{}',
    travel_minutes   double precision NOT NULL DEFAULT 0,
    travel_miles     double precision NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS appointments_resource_day
    ON appointments (resource_id, scheduled_start);
CREATE TABLE IF NOT EXISTS assignments (
    appointment_id text PRIMARY KEY,
    id             text NOT NULL,
    resource_id    text NOT NULL,
    is_primary     boolean NOT NULL DEFAULT true,
    scheduled_by   text NOT NULL DEFAULT '',
    created_at     timestamptz NOT NULL,
    updated_at     timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS territories (
    id    text PRIMARY KEY,
    name  text NOT NULL,
    hours jsonb NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS absences (
    id          text PRIMARY KEY,
    resource_id text NOT NULL,
    starts_at   timestamptz NOT NULL,
    ends_at     timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS policies (
    name           text PRIMARY KEY,
    active_default boolean NOT NULL DEFAULT false,
    doc            jsonb NOT NULL
);
CREATE TABLE IF NOT EXISTS capacity_plans (
    resource_id         text NOT NULL,
    day                 date NOT NULL,
    planned_minutes     integer NOT NULL,
    scheduled_minutes   integer NOT NULL DEFAULT 0,
    travel_minutes      integer NOT NULL DEFAULT 0,
    appointment_count   integer NOT NULL DEFAULT 0,
    utilization_percent double precision NOT NULL DEFAULT 0,
    updated_at          timestamptz NOT NULL,
    PRIMARY KEY (resource_id, day)
);`
	_, err := p.db.ExecContext(ctx, ddl)
	return err
}

// Resources

func (p *Postgres) GetResource(ctx context.Context, id string) (model.Resource, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, name, type, active, priority, skills, home, memberships FROM resources WHERE id=$1`, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resource{}, fmt.Errorf("resource %s: %w", id, store.ErrNotFound)
	}
	return r, err
}

func (p *Postgres) PutResource(ctx context.Context, r model.Resource) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO resources (id, name, type, active, priority, skills, home, memberships)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
    name=EXCLUDED.name, type=EXCLUDED.type, active=EXCLUDED.active,
    priority=EXCLUDED.priority, skills=EXCLUDED.skills,
    home=EXCLUDED.home, memberships=EXCLUDED.memberships`,
		r.ID, r.Name, r.Type, r.Active, r.Priority,
		toJSON(r.Skills), toJSONOrNull(r.Home), toJSON(r.Memberships))
	return err
}

func (p *Postgres) ListResources(ctx context.Context, f store.ResourceFilter) ([]model.Resource, error) {
	query := `SELECT id, name, type, active, priority, skills, home, memberships FROM resources`
	args := []any{}
	if f.Active != nil {
		query += ` WHERE active=$1`
		args = append(args, *f.Active)
	}
	query += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		// Membership effectivity is date-dependent, filter in code.
		if f.TerritoryID != "" {
			on := f.On
			if on.IsZero() {
				on = time.Now()
			}
			if _, ok := r.MembershipOn(f.TerritoryID, on); !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Appointments

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := p.db.QueryRowContext(ctx, apptSelect+` WHERE id=$1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, store.ErrNotFound)
	}
	return a, err
}

func (p *Postgres) PutAppointment(ctx context.Context, a model.Appointment) error {
	return p.putAppointment(ctx, p.db, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) putAppointment(ctx context.Context, db execer, a model.Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO appointments (id, work_order_id, duration_minutes, status, address, territory_id,
    coords, resource_id, scheduled_start, scheduled_end, earliest_start, required_skills,
    travel_minutes, travel_miles)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
    work_order_id=EXCLUDED.work_order_id, duration_minutes=EXCLUDED.duration_minutes,
    status=EXCLUDED.status, address=EXCLUDED.address, territory_id=EXCLUDED.territory_id,
    coords=EXCLUDED.coords, resource_id=EXCLUDED.resource_id,
    scheduled_start=EXCLUDED.scheduled_start, scheduled_end=EXCLUDED.scheduled_end,
    earliest_start=EXCLUDED.earliest_start, required_skills=EXCLUDED.required_skills,
    travel_minutes=EXCLUDED.travel_minutes, travel_miles=EXCLUDED.travel_miles`,
		a.ID, a.WorkOrderID, a.DurationMinutes, a.Status.String(), a.Address, a.TerritoryID,
		toJSONOrNull(a.Coords), a.ResourceID, a.ScheduledStart, a.ScheduledEnd, a.EarliestStart,
		toJSON(a.RequiredSkills), a.TravelMinutes, a.TravelMiles)
	return err
}

const apptSelect = `SELECT id, work_order_id, duration_minutes, status, address, territory_id,
    coords, resource_id, scheduled_start, scheduled_end, earliest_start, required_skills,
    travel_minutes, travel_miles FROM appointments`

func (p *Postgres) ListAppointments(ctx context.Context, f store.AppointmentFilter) ([]model.Appointment, error) {
	query := apptSelect
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ResourceID != "" {
		conds = append(conds, "resource_id="+arg(f.ResourceID))
	}
	if !f.From.IsZero() {
		conds = append(conds, "scheduled_start >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "scheduled_start < "+arg(f.To))
	}
	if f.ExcludeCanceled {
		conds = append(conds, "status <> "+arg(model.StatusCanceled.String()))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY scheduled_start NULLS LAST, id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		// Status-set filtering stays in code, it is rarely used.
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

// CommitSchedule persists appointment, assignment and capacity plan in one
// transaction. With MaxAppointments set, a count recheck inside the
// transaction rejects a day that filled up since scoring.
func (p *Postgres) CommitSchedule(ctx context.Context, in store.CommitInput) error {
	appt := in.Appointment
	if !appt.Scheduled() {
		return model.ValidationError{Field: "scheduled", Msg: "commit requires a scheduled window"}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if in.MaxAppointments > 0 {
		day := model.DayOf(*appt.ScheduledStart)
		var count int
		err := tx.QueryRowContext(ctx, `
SELECT count(*) FROM appointments
WHERE resource_id=$1 AND scheduled_start >= $2 AND scheduled_start < $3
  AND status <> $4 AND id <> $5`,
			appt.ResourceID, day, day.AddDate(0, 0, 1),
			model.StatusCanceled.String(), appt.ID).Scan(&count)
		if err != nil {
			return err
		}
		if count >= in.MaxAppointments {
			return store.ErrSlotConflict
		}
	}

	if err := p.putAppointment(ctx, tx, appt); err != nil {
		return err
	}

	asg := in.Assignment
	_, err = tx.ExecContext(ctx, `
INSERT INTO assignments (appointment_id, id, resource_id, is_primary, scheduled_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (appointment_id) DO UPDATE SET
    resource_id=EXCLUDED.resource_id, is_primary=EXCLUDED.is_primary,
    scheduled_by=EXCLUDED.scheduled_by, updated_at=EXCLUDED.updated_at`,
		asg.AppointmentID, asg.ID, asg.ResourceID, asg.Primary, asg.ScheduledBy,
		asg.CreatedAt, asg.UpdatedAt)
	if err != nil {
		return err
	}

	if err := upsertPlan(ctx, tx, in.Plan); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) GetAssignment(ctx context.Context, appointmentID string) (model.AssignmentRecord, error) {
	var a model.AssignmentRecord
	err := p.db.QueryRowContext(ctx, `
SELECT appointment_id, id, resource_id, is_primary, scheduled_by, created_at, updated_at
FROM assignments WHERE appointment_id=$1`, appointmentID).
		Scan(&a.AppointmentID, &a.ID, &a.ResourceID, &a.Primary, &a.ScheduledBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AssignmentRecord{}, fmt.Errorf("assignment for %s: %w", appointmentID, store.ErrNotFound)
	}
	return a, err
}

// Territories

func (p *Postgres) GetTerritory(ctx context.Context, id string) (model.Territory, error) {
	var t model.Territory
	var hours []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, hours FROM territories WHERE id=$1`, id).Scan(&t.ID, &t.Name, &hours)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Territory{}, fmt.Errorf("territory %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return model.Territory{}, err
	}
	err = json.Unmarshal(hours, &t.Hours)
	return t, err
}

func (p *Postgres) PutTerritory(ctx context.Context, t model.Territory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
INSERT INTO territories (id, name, hours) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, hours=EXCLUDED.hours`,
		t.ID, t.Name, toJSON(t.Hours))
	return err
}

func (p *Postgres) ListTerritories(ctx context.Context) ([]model.Territory, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, hours FROM territories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Territory
	for rows.Next() {
		var t model.Territory
		var hours []byte
		if err := rows.Scan(&t.ID, &t.Name, &hours); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(hours, &t.Hours); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Absences

func (p *Postgres) PutAbsence(ctx context.Context, a model.Absence) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO absences (id, resource_id, starts_at, ends_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET
    resource_id=EXCLUDED.resource_id, starts_at=EXCLUDED.starts_at, ends_at=EXCLUDED.ends_at`,
		a.ID, a.ResourceID, a.From, a.To)
	return err
}

func (p *Postgres) ListAbsences(ctx context.Context, resourceID string, from, to time.Time) ([]model.Absence, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, resource_id, starts_at, ends_at FROM absences
WHERE resource_id=$1 AND starts_at <= $2 AND ends_at >= $3 ORDER BY starts_at`,
		resourceID, to, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Absence
	for rows.Next() {
		var a model.Absence
		if err := rows.Scan(&a.ID, &a.ResourceID, &a.From, &a.To); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Policies

func (p *Postgres) GetPolicy(ctx context.Context, name string) (model.SchedulingPolicy, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM policies WHERE name=$1`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SchedulingPolicy{}, fmt.Errorf("policy %s: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return model.SchedulingPolicy{}, err
	}
	var pol model.SchedulingPolicy
	err = json.Unmarshal(doc, &pol)
	return pol, err
}

// ActivePolicy returns the single default policy, falling back to the
// built-in defaults when none is flagged.
func (p *Postgres) ActivePolicy(ctx context.Context) (model.SchedulingPolicy, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM policies WHERE active_default LIMIT 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultPolicy(), nil
	}
	if err != nil {
		return model.SchedulingPolicy{}, err
	}
	var pol model.SchedulingPolicy
	err = json.Unmarshal(doc, &pol)
	return pol, err
}

func (p *Postgres) ListPolicies(ctx context.Context) ([]model.SchedulingPolicy, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM policies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SchedulingPolicy
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var pol model.SchedulingPolicy
		if err := json.Unmarshal(doc, &pol); err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	return out, rows.Err()
}

// UpsertPolicy stores the policy. A new default clears the previous one
// inside the same transaction so exactly one default survives.
func (p *Postgres) UpsertPolicy(ctx context.Context, pol model.SchedulingPolicy) error {
	if err := pol.Validate(); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if pol.ActiveDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE policies SET active_default=false WHERE name <> $1`, pol.Name); err != nil {
			return err
		}
		// Keep the stored docs consistent with the flag column.
		if _, err := tx.ExecContext(ctx,
			`UPDATE policies SET doc = jsonb_set(doc, '{active_default}', 'false') WHERE name <> $1`, pol.Name); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO policies (name, active_default, doc) VALUES ($1,$2,$3)
ON CONFLICT (name) DO UPDATE SET active_default=EXCLUDED.active_default, doc=EXCLUDED.doc`,
		pol.Name, pol.ActiveDefault, toJSON(pol)); err != nil {
		return err
	}
	return tx.Commit()
}

// Capacity plans

func (p *Postgres) GetCapacityPlan(ctx context.Context, resourceID string, date time.Time) (model.CapacityPlan, error) {
	var plan model.CapacityPlan
	err := p.db.QueryRowContext(ctx, `
SELECT resource_id, day, planned_minutes, scheduled_minutes, travel_minutes,
       appointment_count, utilization_percent, updated_at
FROM capacity_plans WHERE resource_id=$1 AND day=$2`,
		resourceID, model.DayOf(date)).
		Scan(&plan.ResourceID, &plan.Date, &plan.PlannedMinutes, &plan.ScheduledMinutes,
			&plan.TravelMinutes, &plan.AppointmentCount, &plan.UtilizationPercent, &plan.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CapacityPlan{}, fmt.Errorf("capacity plan %s/%s: %w",
			resourceID, model.DayKey(date), store.ErrNotFound)
	}
	return plan, err
}

func (p *Postgres) UpsertCapacityPlan(ctx context.Context, plan model.CapacityPlan) error {
	return upsertPlan(ctx, p.db, plan)
}

func upsertPlan(ctx context.Context, db execer, plan model.CapacityPlan) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO capacity_plans (resource_id, day, planned_minutes, scheduled_minutes,
    travel_minutes, appointment_count, utilization_percent, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (resource_id, day) DO UPDATE SET
    planned_minutes=EXCLUDED.planned_minutes, scheduled_minutes=EXCLUDED.scheduled_minutes,
    travel_minutes=EXCLUDED.travel_minutes, appointment_count=EXCLUDED.appointment_count,
    utilization_percent=EXCLUDED.utilization_percent, updated_at=EXCLUDED.updated_at`,
		plan.ResourceID, model.DayOf(plan.Date), plan.PlannedMinutes, plan.ScheduledMinutes,
		plan.TravelMinutes, plan.AppointmentCount, plan.UtilizationPercent, plan.UpdatedAt)
	return err
}

// scanning helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanResource(row rowScanner) (model.Resource, error) {
	var r model.Resource
	var skills, memberships []byte
	var home []byte
	if err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Active, &r.Priority, &skills, &home, &memberships); err != nil {
		return model.Resource{}, err
	}
	if err := json.Unmarshal(skills, &r.Skills); err != nil {
		return model.Resource{}, err
	}
	if err := json.Unmarshal(memberships, &r.Memberships); err != nil {
		return model.Resource{}, err
	}
	if len(home) > 0 {
		if err := json.Unmarshal(home, &r.Home); err != nil {
			return model.Resource{}, err
		}
	}
	return r, nil
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var a model.Appointment
	var status string
	var coords, skills []byte
	if err := row.Scan(&a.ID, &a.WorkOrderID, &a.DurationMinutes, &status, &a.Address,
		&a.TerritoryID, &coords, &a.ResourceID, &a.ScheduledStart, &a.ScheduledEnd,
		&a.EarliestStart, &skills, &a.TravelMinutes, &a.TravelMiles); err != nil {
		return model.Appointment{}, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = st
	if len(coords) > 0 {
		if err := json.Unmarshal(coords, &a.Coords); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := json.Unmarshal(skills, &a.RequiredSkills); err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func toJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func toJSONOrNull(v any) any {
	switch t := v.(type) {
	case *model.Coordinates:
		if t == nil {
			return nil
		}
	}
	return toJSON(v)
}
