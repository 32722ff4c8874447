package admission

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/memdb"
)

type repoMemory struct {
	db         *memdb.DB
	admissions *memdb.Table[*Admission]
}

// NewMemoryRepo stores admissions in db. Patients are looked up in the
// same db, so the patient memory repository must share it.
func NewMemoryRepo(db *memdb.DB) Repository {
	return &repoMemory{
		db:         db,
		admissions: memdb.NewTable(db, memdb.TableAdmission, (*Admission).Clone),
	}
}

func (r *repoMemory) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, ok := r.admissions.Get(ctx, id)
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// GetForUpdate needs no row lock; the enclosing transaction already holds
// the store exclusively.
func (r *repoMemory) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.GetByID(ctx, id)
}

func (r *repoMemory) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	out := r.admissions.Filter(ctx, func(a *Admission) bool {
		return a.PatientID == patientID && a.DeletedAt == nil
	})
	newestFirst(out)
	return out, nil
}

func newestFirst(out []*Admission) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AdmissionNumber > out[j].AdmissionNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

func (r *repoMemory) ListByPatientForUpdate(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return r.ListByPatient(ctx, patientID)
}

func (r *repoMemory) LockPatient(ctx context.Context, patientID uuid.UUID) error {
	if !r.db.Live(ctx, memdb.TablePatient, patientID) {
		return ErrPatientNotFound
	}
	return nil
}

func (r *repoMemory) Insert(ctx context.Context, a *Admission) error {
	taken := r.admissions.Filter(ctx, func(x *Admission) bool {
		return x.AdmissionNumber == a.AdmissionNumber
	})
	if len(taken) > 0 {
		return ErrDuplicateNumber
	}
	a.VersionID = 1
	r.admissions.Put(ctx, a.ID, a)
	return nil
}

func (r *repoMemory) Save(ctx context.Context, a *Admission, expectedVersion int) error {
	stored, ok := r.admissions.Get(ctx, a.ID)
	if !ok || stored.DeletedAt != nil {
		return ErrNotFound
	}
	if stored.VersionID != expectedVersion {
		return ErrVersionConflict
	}
	a.VersionID = expectedVersion + 1
	r.admissions.Put(ctx, a.ID, a)
	return nil
}

func (r *repoMemory) ReserveNextAdmissionNumber(ctx context.Context, year int) (int, error) {
	return r.db.NextSeq(ctx, "admission_sequence:"+strconv.Itoa(year)), nil
}

func (r *repoMemory) Search(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	out := r.admissions.Filter(ctx, f.matches)
	newestFirst(out)
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

func (r *repoMemory) Statistics(ctx context.Context, now time.Time) (*Statistics, error) {
	return Tally(r.admissions.Filter(ctx, func(a *Admission) bool { return a.DeletedAt == nil }), now), nil
}
