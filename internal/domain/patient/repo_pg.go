package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/admissions/internal/platform/db"
)

const constraintNationalID = "patient_national_id_key"

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

const patientCols = `id, name, national_id, phone, address, gender, date_of_birth, blood_type,
	known_allergies, chronic_conditions, nearest_relative_name, nearest_relative_phone,
	version_id, created_at, updated_at, deleted_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.NationalID, &p.Phone, &p.Address, &p.Gender, &p.DateOfBirth,
		&p.BloodType, &p.KnownAllergies, &p.ChronicConditions, &p.NearestRelativeName,
		&p.NearestRelativePhone, &p.VersionID, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (`+patientCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.Name, p.NationalID, p.Phone, p.Address, p.Gender, p.DateOfBirth, p.BloodType,
		p.KnownAllergies, p.ChronicConditions, p.NearestRelativeName, p.NearestRelativePhone,
		p.VersionID, p.CreatedAt, p.UpdatedAt, p.DeletedAt,
	)
	if db.IsUniqueViolation(err, constraintNationalID) {
		return ErrDuplicateNationalID
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET name = $2, national_id = $3, phone = $4, address = $5, gender = $6,
			date_of_birth = $7, blood_type = $8, known_allergies = $9, chronic_conditions = $10,
			nearest_relative_name = $11, nearest_relative_phone = $12, updated_at = $13,
			version_id = version_id + 1
		WHERE id = $1 AND version_id = $14 AND deleted_at IS NULL`,
		p.ID, p.Name, p.NationalID, p.Phone, p.Address, p.Gender, p.DateOfBirth, p.BloodType,
		p.KnownAllergies, p.ChronicConditions, p.NearestRelativeName, p.NearestRelativePhone,
		p.UpdatedAt, expectedVersion,
	)
	if db.IsUniqueViolation(err, constraintNationalID) {
		return ErrDuplicateNationalID
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	p.VersionID = expectedVersion + 1
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, p.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	where := "deleted_at IS NULL"
	var args []interface{}
	if query != "" {
		where += ` AND (name ILIKE $1 OR national_id ILIKE $1 OR phone ILIKE $1)`
		args = append(args, "%"+query+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql := fmt.Sprintf(`SELECT %s FROM patient WHERE %s ORDER BY name, created_at LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, sql, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}
