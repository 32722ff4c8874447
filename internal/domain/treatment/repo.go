package treatment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("treatment record not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAdmissionClosed is returned for writes against an admission that is
	// no longer admitted.
	ErrAdmissionClosed = errors.New("cannot modify treatment records of a closed admission")
)

// Repository stores treatment records. Writes are expected to run inside the
// transaction that holds the parent admission's row lock.
type Repository interface {
	Insert(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error)
}
