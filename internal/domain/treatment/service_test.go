package treatment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/admissions/internal/domain/admission"
	"github.com/ehr/admissions/internal/platform/blobstore"
	"github.com/ehr/admissions/internal/platform/memdb"
	"github.com/ehr/admissions/internal/platform/validation"
)

var now = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	db         *memdb.DB
	admissions admission.Repository
	blobs      *blobstore.Memory
	svc        *Service
	doctor     uuid.UUID
	nurse      uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := memdb.New()
	env := &testEnv{
		db:         db,
		admissions: admission.NewMemoryRepo(db),
		blobs:      blobstore.NewMemory(64),
		doctor:     uuid.New(),
		nurse:      uuid.New(),
	}
	env.svc = NewService(NewMemoryRepo(db), env.admissions, db, env.blobs)
	return env
}

// admission stores an admission in the given status directly, bypassing the
// lifecycle.
func (env *testEnv) admission(t *testing.T, status admission.Status) *admission.Admission {
	t.Helper()
	doctor, nurse := env.doctor, env.nurse
	a := &admission.Admission{
		ID:              uuid.New(),
		AdmissionNumber: "ADM-2025-" + uuid.NewString()[:6],
		PatientID:       uuid.New(),
		AdmissionType:   admission.TypeInpatient,
		Status:          status,
		DoctorID:        &doctor,
		NurseID:         &nurse,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, env.admissions.Insert(context.Background(), a))
	return a
}

func (env *testEnv) setStatus(t *testing.T, a *admission.Admission, status admission.Status) {
	t.Helper()
	cur, err := env.admissions.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	cur.Status = status
	require.NoError(t, env.admissions.Save(context.Background(), cur, cur.VersionID))
}

func TestService_Create(t *testing.T) {
	env := newTestEnv(t)
	a := env.admission(t, admission.StatusAdmitted)

	rec, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{
		TreatmentType: "medication",
		TreatmentName: "IV ceftriaxone",
		Dosage:        "1g daily",
		TreatmentTime: "09:15",
		Outcome:       "ongoing",
	})
	require.NoError(t, err)
	assert.Equal(t, a.PatientID, rec.PatientID)
	assert.Equal(t, a.ID, rec.AdmissionID)
	require.NotNil(t, rec.NurseID)
	assert.Equal(t, env.nurse, *rec.NurseID, "nurse defaults to the admission's nurse")
	assert.Equal(t, "2025-03-14", rec.TreatmentDate.Format("2006-01-02"))
	assert.Empty(t, rec.Attachments)

	list, err := env.svc.List(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestService_Create_Validation(t *testing.T) {
	env := newTestEnv(t)
	a := env.admission(t, admission.StatusAdmitted)

	_, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{
		TreatmentType: "magic",
		TreatmentTime: "25:00",
		TreatmentDate: "14/03/2025",
		Outcome:       "cured",
	})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr), "got %v", err)
	for _, f := range []string{"treatment_type", "treatment_time", "treatment_date", "outcome"} {
		assert.Contains(t, verr.Fields, f)
	}
}

func TestService_Create_ClosedAdmission(t *testing.T) {
	for _, status := range []admission.Status{admission.StatusDischarged, admission.StatusDeceased, admission.StatusTransferred} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			a := env.admission(t, status)
			_, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{TreatmentType: "other"})
			assert.ErrorIs(t, err, ErrAdmissionClosed)

			list, err := env.svc.List(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestService_Create_UnknownAdmission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Create(context.Background(), now, env.doctor, uuid.New(), CreateCommand{TreatmentType: "other"})
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestService_Update(t *testing.T) {
	env := newTestEnv(t)
	a := env.admission(t, admission.StatusAdmitted)
	rec, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{TreatmentType: "procedure", Notes: "first"})
	require.NoError(t, err)

	outcome, date := "successful", "2025-03-13"
	updated, err := env.svc.Update(context.Background(), now.Add(time.Hour), env.doctor, a.ID, rec.ID, UpdateCommand{
		Outcome:       &outcome,
		TreatmentDate: &date,
	})
	require.NoError(t, err)
	assert.Equal(t, "successful", updated.Outcome)
	assert.Equal(t, "first", updated.Notes)
	assert.Equal(t, "2025-03-13", updated.TreatmentDate.Format("2006-01-02"))

	other := env.admission(t, admission.StatusAdmitted)
	_, err = env.svc.Update(context.Background(), now, env.doctor, other.ID, rec.ID, UpdateCommand{Outcome: &outcome})
	assert.ErrorIs(t, err, ErrNotFound, "record must belong to the admission in the path")

	env.setStatus(t, a, admission.StatusDischarged)
	_, err = env.svc.Update(context.Background(), now, env.doctor, a.ID, rec.ID, UpdateCommand{Outcome: &outcome})
	assert.ErrorIs(t, err, ErrAdmissionClosed)
}

func TestService_Attachments(t *testing.T) {
	env := newTestEnv(t)
	a := env.admission(t, admission.StatusAdmitted)
	rec, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{TreatmentType: "diagnostic"})
	require.NoError(t, err)

	withFile, err := env.svc.AddAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, Upload{
		FileName:    "x-ray.png",
		ContentType: "image/png",
		Content:     strings.NewReader("png-bytes"),
	})
	require.NoError(t, err)
	require.Len(t, withFile.Attachments, 1)
	att := withFile.Attachments[0]
	assert.Equal(t, "x-ray.png", att.FileName)
	assert.Equal(t, int64(len("png-bytes")), att.Size)
	assert.True(t, strings.HasPrefix(att.Path, StoragePrefix+"/"+rec.ID.String()+"/"))

	body, got, err := env.svc.OpenAttachment(context.Background(), a.ID, rec.ID, att.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", got.ContentType)

	after, err := env.svc.RemoveAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, att.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Attachments)
	assert.Empty(t, env.blobs.Keys(), "blob is deleted with the attachment")

	_, err = env.svc.RemoveAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, att.ID)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestService_AddAttachment_Rejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.admission(t, admission.StatusAdmitted)
	rec, err := env.svc.Create(context.Background(), now, env.doctor, a.ID, CreateCommand{TreatmentType: "other"})
	require.NoError(t, err)

	_, err = env.svc.AddAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, Upload{
		FileName: "big.bin",
		Content:  strings.NewReader(strings.Repeat("x", 65)),
	})
	assert.ErrorIs(t, err, blobstore.ErrFileTooLarge)

	_, err = env.svc.AddAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, Upload{Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, blobstore.ErrMissingFileName)

	env.setStatus(t, a, admission.StatusDeceased)
	_, err = env.svc.AddAttachment(context.Background(), now, env.doctor, a.ID, rec.ID, Upload{
		FileName: "late.txt",
		Content:  strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrAdmissionClosed)
	assert.Empty(t, env.blobs.Keys())

	stored, err := env.svc.Get(context.Background(), a.ID, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Attachments)
}
