package treatment

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/admissions/internal/platform/db"
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

const recordCols = `id, admission_id, patient_id, treatment_type, treatment_name, description, dosage,
	results, findings, outcome, notes, medications, pre_procedure_notes, post_procedure_notes,
	complications, treatment_date, treatment_time, doctor_id, nurse_id, attachments,
	created_by, updated_by, created_at, updated_at, deleted_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var attachments []byte
	err := row.Scan(&r.ID, &r.AdmissionID, &r.PatientID, &r.TreatmentType, &r.TreatmentName,
		&r.Description, &r.Dosage, &r.Results, &r.Findings, &r.Outcome, &r.Notes, &r.Medications,
		&r.PreProcedureNotes, &r.PostProcedureNotes, &r.Complications, &r.TreatmentDate,
		&r.TreatmentTime, &r.DoctorID, &r.NurseID, &attachments, &r.CreatedBy, &r.UpdatedBy,
		&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &r.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	if r.Attachments == nil {
		r.Attachments = []Attachment{}
	}
	return &r, nil
}

func encodeAttachments(list []Attachment) ([]byte, error) {
	if list == nil {
		list = []Attachment{}
	}
	return json.Marshal(list)
}

func (r *repoPG) Insert(ctx context.Context, rec *Record) error {
	attachments, err := encodeAttachments(rec.Attachments)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment_record (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20::jsonb, $21, $22, $23, $24, $25)`,
		rec.ID, rec.AdmissionID, rec.PatientID, rec.TreatmentType, rec.TreatmentName,
		rec.Description, rec.Dosage, rec.Results, rec.Findings, rec.Outcome, rec.Notes,
		rec.Medications, rec.PreProcedureNotes, rec.PostProcedureNotes, rec.Complications,
		rec.TreatmentDate, rec.TreatmentTime, rec.DoctorID, rec.NurseID, attachments,
		rec.CreatedBy, rec.UpdatedBy, rec.CreatedAt, rec.UpdatedAt, rec.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert treatment record: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM treatment_record WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	attachments, err := encodeAttachments(rec.Attachments)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE treatment_record SET
			treatment_type = $2, treatment_name = $3, description = $4, dosage = $5,
			results = $6, findings = $7, outcome = $8, notes = $9, medications = $10,
			pre_procedure_notes = $11, post_procedure_notes = $12, complications = $13,
			treatment_date = $14, treatment_time = $15, doctor_id = $16, nurse_id = $17,
			attachments = $18::jsonb, updated_by = $19, updated_at = $20
		WHERE id = $1 AND deleted_at IS NULL`,
		rec.ID, rec.TreatmentType, rec.TreatmentName, rec.Description, rec.Dosage,
		rec.Results, rec.Findings, rec.Outcome, rec.Notes, rec.Medications,
		rec.PreProcedureNotes, rec.PostProcedureNotes, rec.Complications,
		rec.TreatmentDate, rec.TreatmentTime, rec.DoctorID, rec.NurseID,
		attachments, rec.UpdatedBy, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update treatment record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM treatment_record
		WHERE admission_id = $1 AND deleted_at IS NULL
		ORDER BY treatment_date DESC, created_at DESC`, admissionID)
	if err != nil {
		return nil, fmt.Errorf("list treatment records: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
