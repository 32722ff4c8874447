package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract of the lifecycle. The ForUpdate reads
// and LockPatient take row locks, so they must run inside InTx.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error)
	ListByPatientForUpdate(ctx context.Context, patientID uuid.UUID) ([]*Admission, error)

	// LockPatient serializes transitions per patient. It returns ErrPatientNotFound
	// for unknown or soft-deleted patients.
	LockPatient(ctx context.Context, patientID uuid.UUID) error

	// Insert stores a new admission with VersionID 1. It returns ErrDuplicateNumber
	// when the admission number is taken.
	Insert(ctx context.Context, a *Admission) error

	// Save writes a only if the stored version equals expectedVersion, then
	// bumps a.VersionID. A mismatch yields ErrVersionConflict.
	Save(ctx context.Context, a *Admission, expectedVersion int) error

	ReserveNextAdmissionNumber(ctx context.Context, year int) (int, error)

	// Search returns one page of the index, newest first, and the total match count.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error)
	Statistics(ctx context.Context, now time.Time) (*Statistics, error)
}

// TxRunner runs fn as one atomic unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
