package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("patient not found")
	ErrDuplicateNationalID = errors.New("a patient with this national id already exists")
	ErrVersionConflict     = errors.New("patient was modified concurrently, reload and retry")
	ErrHasOpenAdmission    = errors.New("patient has an open admission")
)

type Repository interface {
	// Create stores p with VersionID 1. A taken national id yields ErrDuplicateNationalID.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Update writes p only if the stored version equals expectedVersion.
	Update(ctx context.Context, p *Patient, expectedVersion int) error
	// SoftDelete stamps deleted_at. Deleted patients disappear from every read.
	SoftDelete(ctx context.Context, p *Patient) error
	// Search matches name, national id or phone. An empty query lists everyone.
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error)
}
