package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/admissions/internal/platform/db"
)

const (
	constraintNumber          = "admission_number_key"
	constraintActiveInpatient = "admission_one_active_inpatient"
	constraintOneDeceased     = "admission_one_deceased"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

var admissionColumns = []string{
	"id", "admission_number", "patient_id", "admission_type", "status", "doctor_id", "nurse_id",
	"admission_date", "admission_time", "admitted_for", "present_address", "police_case", "service",
	"ward", "bed_number", "initial_diagnosis", "chief_complaint", "vital_signs", "remarks",
	"discharge_date", "discharge_time", "discharge_type", "discharge_status", "discharge_diagnosis",
	"clinician_summary", "discharge_instructions", "follow_up_instructions", "follow_up_date",
	"attending_doctor_name",
	"cause_of_death", "time_of_death", "autopsy", "certified_by", "transfer_destination",
	"version_id", "created_by", "updated_by", "created_at", "updated_at", "deleted_at",
}

// Columns Save never rewrites.
var frozenColumns = map[string]bool{
	"id": true, "version_id": true, "created_by": true, "created_at": true,
}

var admCols = strings.Join(admissionColumns, ", ")

func (a *Admission) values() []interface{} {
	return []interface{}{
		a.ID, a.AdmissionNumber, a.PatientID, a.AdmissionType, a.Status, a.DoctorID, a.NurseID,
		a.AdmissionDate, a.AdmissionTime, a.AdmittedFor, a.PresentAddress, a.PoliceCase, a.Service,
		a.Ward, a.BedNumber, a.InitialDiagnosis, a.ChiefComplaint, a.VitalSigns, a.Remarks,
		a.DischargeDate, a.DischargeTime, a.DischargeType, a.DischargeStatus, a.DischargeDiagnosis,
		a.ClinicianSummary, a.DischargeInstructions, a.FollowUpInstructions, a.FollowUpDate,
		a.AttendingDoctorName,
		a.CauseOfDeath, a.TimeOfDeath, a.Autopsy, a.CertifiedBy, a.TransferDestination,
		a.VersionID, a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt, a.DeletedAt,
	}
}

func (a *Admission) scanTargets() []interface{} {
	return []interface{}{
		&a.ID, &a.AdmissionNumber, &a.PatientID, &a.AdmissionType, &a.Status, &a.DoctorID, &a.NurseID,
		&a.AdmissionDate, &a.AdmissionTime, &a.AdmittedFor, &a.PresentAddress, &a.PoliceCase, &a.Service,
		&a.Ward, &a.BedNumber, &a.InitialDiagnosis, &a.ChiefComplaint, &a.VitalSigns, &a.Remarks,
		&a.DischargeDate, &a.DischargeTime, &a.DischargeType, &a.DischargeStatus, &a.DischargeDiagnosis,
		&a.ClinicianSummary, &a.DischargeInstructions, &a.FollowUpInstructions, &a.FollowUpDate,
		&a.AttendingDoctorName,
		&a.CauseOfDeath, &a.TimeOfDeath, &a.Autopsy, &a.CertifiedBy, &a.TransferDestination,
		&a.VersionID, &a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	}
}

var insertSQL = func() string {
	ph := make([]string, len(admissionColumns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`INSERT INTO admission (%s) VALUES (%s)`, admCols, strings.Join(ph, ", "))
}()

var saveSQL, saveIndexes = func() (string, []int) {
	var sets []string
	var idx []int
	for i, c := range admissionColumns {
		if frozenColumns[c] {
			continue
		}
		idx = append(idx, i)
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(idx)+1))
	}
	return fmt.Sprintf(`UPDATE admission SET %s, version_id = version_id + 1
		WHERE id = $1 AND version_id = $%d AND deleted_at IS NULL`,
		strings.Join(sets, ", "), len(idx)+2), idx
}()

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	if err := row.Scan(a.scanTargets()...); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+admCols+` FROM admission WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+admCols+` FROM admission WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return r.listByPatient(ctx, patientID, "")
}

func (r *repoPG) ListByPatientForUpdate(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return r.listByPatient(ctx, patientID, " FOR UPDATE")
}

func (r *repoPG) listByPatient(ctx context.Context, patientID uuid.UUID, lock string) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+admCols+` FROM admission
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, admission_number DESC`+lock, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM patient WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, patientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPatientNotFound
	}
	return err
}

// Insert runs under a savepoint so a duplicate number leaves the enclosing
// transaction usable for another attempt.
func (r *repoPG) Insert(ctx context.Context, a *Admission) error {
	a.VersionID = 1
	return r.savepoint(ctx, func(q querier) error {
		_, err := q.Exec(ctx, insertSQL, a.values()...)
		return translateWriteErr(err)
	})
}

func (r *repoPG) Save(ctx context.Context, a *Admission, expectedVersion int) error {
	all := a.values()
	args := make([]interface{}, 0, len(saveIndexes)+2)
	args = append(args, a.ID)
	for _, i := range saveIndexes {
		args = append(args, all[i])
	}
	args = append(args, expectedVersion)

	tag, err := r.conn(ctx).Exec(ctx, saveSQL, args...)
	if err != nil {
		return translateWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	a.VersionID = expectedVersion + 1
	return nil
}

func (r *repoPG) ReserveNextAdmissionNumber(ctx context.Context, year int) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission_sequence (year, last_value)
		VALUES ($1, COALESCE((
			SELECT MAX(CAST(RIGHT(admission_number, 6) AS INTEGER))
			FROM admission WHERE admission_number LIKE $2
		), 0) + 1)
		ON CONFLICT (year) DO UPDATE SET last_value = admission_sequence.last_value + 1
		RETURNING last_value`,
		year, fmt.Sprintf("ADM-%04d-%%", year),
	).Scan(&n)
	return n, err
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("admission_type = $%d", f.Type)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.AdmittedFrom != nil {
		add("admission_date >= $%d", dateOf(*f.AdmittedFrom))
	}
	if f.AdmittedTo != nil {
		add("admission_date <= $%d", dateOf(*f.AdmittedTo))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.NurseID != nil {
		add("nurse_id = $%d", *f.NurseID)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM admission WHERE %s
		ORDER BY created_at DESC, admission_number DESC LIMIT $%d OFFSET $%d`,
		admCols, clause, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Statistics(ctx context.Context, now time.Time) (*Statistics, error) {
	from, to := monthBounds(now)
	s := &Statistics{ByStatus: map[Status]int{}, ByType: map[Type]int{}}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'admitted'),
			COUNT(*) FILTER (WHERE status = 'admitted' AND admission_type = 'inpatient'),
			COUNT(*) FILTER (WHERE status = 'admitted' AND admission_type = 'outpatient'),
			COUNT(*) FILTER (WHERE status = 'discharged' AND discharge_date >= $1 AND discharge_date < $2),
			COUNT(*) FILTER (WHERE admission_date >= $1 AND admission_date < $2),
			COUNT(*) FILTER (WHERE admission_date = $3)
		FROM admission WHERE deleted_at IS NULL`, from, to, dateOf(now),
	).Scan(&s.TotalAdmissions, &s.CurrentlyAdmitted, &s.CurrentlyAdmittedInpatient,
		&s.CurrentlyAdmittedOutpatient, &s.DischargedThisMonth, &s.AdmissionsThisMonth,
		&s.AdmittedToday)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, admission_type, COUNT(*) FROM admission
		WHERE deleted_at IS NULL GROUP BY status, admission_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st Status
			ty Type
			n  int
		)
		if err := rows.Scan(&st, &ty, &n); err != nil {
			return nil, err
		}
		s.ByStatus[st] += n
		s.ByType[ty] += n
	}
	return s, rows.Err()
}

func (r *repoPG) savepoint(ctx context.Context, fn func(q querier) error) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return fn(r.conn(ctx))
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func translateWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, constraintNumber):
		return ErrDuplicateNumber
	case db.IsUniqueViolation(err, constraintActiveInpatient), db.IsUniqueViolation(err, constraintOneDeceased):
		return ErrVersionConflict
	default:
		return err
	}
}
