package patient

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/memdb"
)

type repoMemory struct {
	db       *memdb.DB
	patients *memdb.Table[*Patient]
}

// NewMemoryRepo stores patients in db under memdb.TablePatient, where the
// admission memory repository expects to find them.
func NewMemoryRepo(db *memdb.DB) Repository {
	return &repoMemory{db: db, patients: memdb.NewTable(db, memdb.TablePatient, (*Patient).Clone)}
}

func (r *repoMemory) nationalIDTaken(ctx context.Context, p *Patient) bool {
	if p.NationalID == nil {
		return false
	}
	return len(r.patients.Filter(ctx, func(x *Patient) bool {
		return x.ID != p.ID && !x.IsDeleted() && x.NationalID != nil && *x.NationalID == *p.NationalID
	})) > 0
}

func (r *repoMemory) Create(ctx context.Context, p *Patient) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		if r.nationalIDTaken(ctx, p) {
			return ErrDuplicateNationalID
		}
		p.VersionID = 1
		r.patients.Put(ctx, p.ID, p)
		return nil
	})
}

func (r *repoMemory) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := r.patients.Get(ctx, id)
	if !ok || p.IsDeleted() {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *repoMemory) Update(ctx context.Context, p *Patient, expectedVersion int) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		stored, err := r.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if stored.VersionID != expectedVersion {
			return ErrVersionConflict
		}
		if r.nationalIDTaken(ctx, p) {
			return ErrDuplicateNationalID
		}
		p.VersionID = expectedVersion + 1
		r.patients.Put(ctx, p.ID, p)
		return nil
	})
}

func (r *repoMemory) SoftDelete(ctx context.Context, p *Patient) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		stored, err := r.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		stored.DeletedAt = p.DeletedAt
		stored.UpdatedAt = p.UpdatedAt
		r.patients.Put(ctx, p.ID, stored)
		return nil
	})
}

func (r *repoMemory) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	q := strings.ToLower(query)
	out := r.patients.Filter(ctx, func(p *Patient) bool {
		if p.IsDeleted() {
			return false
		}
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(p.Name), q) ||
			(p.NationalID != nil && strings.Contains(strings.ToLower(*p.NationalID), q)) ||
			strings.Contains(p.Phone, q)
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})

	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}
