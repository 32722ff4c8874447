package treatment

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/memdb"
)

type repoMemory struct {
	records *memdb.Table[*Record]
}

func NewMemoryRepo(db *memdb.DB) Repository {
	return &repoMemory{records: memdb.NewTable(db, memdb.TableTreatment, (*Record).Clone)}
}

func (r *repoMemory) Insert(ctx context.Context, rec *Record) error {
	if rec.Attachments == nil {
		rec.Attachments = []Attachment{}
	}
	r.records.Put(ctx, rec.ID, rec)
	return nil
}

func (r *repoMemory) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, ok := r.records.Get(ctx, id)
	if !ok || rec.IsDeleted() {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *repoMemory) Update(ctx context.Context, rec *Record) error {
	if _, err := r.GetByID(ctx, rec.ID); err != nil {
		return err
	}
	r.records.Put(ctx, rec.ID, rec)
	return nil
}

func (r *repoMemory) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error) {
	out := r.records.Filter(ctx, func(rec *Record) bool {
		return rec.AdmissionID == admissionID && !rec.IsDeleted()
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].TreatmentDate.Equal(out[j].TreatmentDate) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TreatmentDate.After(out[j].TreatmentDate)
	})
	return out, nil
}
