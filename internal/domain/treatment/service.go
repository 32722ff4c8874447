package treatment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/admissions/internal/domain/admission"
	"github.com/ehr/admissions/internal/platform/blobstore"
	"github.com/ehr/admissions/internal/platform/validation"
)

// Admissions is the slice of the admission store treatment writes need.
// GetForUpdate must take the admission's row lock inside the transaction.
type Admissions interface {
	GetByID(ctx context.Context, id uuid.UUID) (*admission.Admission, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*admission.Admission, error)
}

type Service struct {
	repo       Repository
	admissions Admissions
	tx         admission.TxRunner
	blobs      blobstore.Store
	validate   *validation.Validator
}

func NewService(repo Repository, admissions Admissions, tx admission.TxRunner, blobs blobstore.Store) *Service {
	return &Service{
		repo:       repo,
		admissions: admissions,
		tx:         tx,
		blobs:      blobs,
		validate:   validation.New(),
	}
}

// Admission returns the parent admission for access checks.
func (s *Service) Admission(ctx context.Context, id uuid.UUID) (*admission.Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

// lockAdmitted locks the parent admission and requires it to be admitted.
// Every write goes through it, so a concurrent discharge or death
// confirmation either sees the new record or blocks it.
func (s *Service) lockAdmitted(ctx context.Context, admissionID uuid.UUID) (*admission.Admission, error) {
	a, err := s.admissions.GetForUpdate(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if a.Status != admission.StatusAdmitted {
		return nil, fmt.Errorf("%w: status %s", ErrAdmissionClosed, a.Status)
	}
	return a, nil
}

func (s *Service) Create(ctx context.Context, now time.Time, actorID, admissionID uuid.UUID, cmd CreateCommand) (*Record, error) {
	if fields := s.validate.Fields(&cmd); fields != nil {
		return nil, &validation.Error{Fields: fields}
	}
	var rec *Record
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.lockAdmitted(ctx, admissionID)
		if err != nil {
			return err
		}
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if cmd.TreatmentDate != "" {
			day, _ = time.Parse("2006-01-02", cmd.TreatmentDate)
		}
		nurse := cmd.NurseID
		if nurse == nil {
			nurse = a.NurseID
		}
		actor := actorID
		rec = &Record{
			ID:                 uuid.New(),
			AdmissionID:        a.ID,
			PatientID:          a.PatientID,
			TreatmentType:      cmd.TreatmentType,
			TreatmentName:      cmd.TreatmentName,
			Description:        cmd.Description,
			Dosage:             cmd.Dosage,
			Results:            cmd.Results,
			Findings:           cmd.Findings,
			Outcome:            cmd.Outcome,
			Notes:              cmd.Notes,
			Medications:        cmd.Medications,
			PreProcedureNotes:  cmd.PreProcedureNotes,
			PostProcedureNotes: cmd.PostProcedureNotes,
			Complications:      cmd.Complications,
			TreatmentDate:      day,
			TreatmentTime:      cmd.TreatmentTime,
			DoctorID:           cmd.DoctorID,
			NurseID:            nurse,
			Attachments:        []Attachment{},
			CreatedBy:          &actor,
			UpdatedBy:          &actor,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return s.repo.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a record of the given admission.
func (s *Service) Get(ctx context.Context, admissionID, id uuid.UUID) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.AdmissionID != admissionID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, admissionID uuid.UUID) ([]*Record, error) {
	if _, err := s.admissions.GetByID(ctx, admissionID); err != nil {
		return nil, err
	}
	return s.repo.ListByAdmission(ctx, admissionID)
}

func (s *Service) Update(ctx context.Context, now time.Time, actorID, admissionID, id uuid.UUID, cmd UpdateCommand) (*Record, error) {
	if fields := s.validate.Fields(&cmd); fields != nil {
		return nil, &validation.Error{Fields: fields}
	}
	var rec *Record
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockAdmitted(ctx, admissionID); err != nil {
			return err
		}
		cur, err := s.Get(ctx, admissionID, id)
		if err != nil {
			return err
		}
		cmd.apply(cur)
		actor := actorID
		cur.UpdatedBy = &actor
		cur.UpdatedAt = now
		if err := s.repo.Update(ctx, cur); err != nil {
			return err
		}
		rec = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upload is one file of an attachment request.
type Upload struct {
	FileName    string
	ContentType string
	Content     io.Reader
}

// AddAttachment stores the file, then appends it to the record under the
// admission lock. The blob is removed again when the record write fails.
func (s *Service) AddAttachment(ctx context.Context, now time.Time, actorID, admissionID, id uuid.UUID, up Upload) (*Record, error) {
	if up.FileName == "" {
		return nil, blobstore.ErrMissingFileName
	}
	a, err := s.admissions.GetByID(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if a.Status != admission.StatusAdmitted {
		return nil, fmt.Errorf("%w: status %s", ErrAdmissionClosed, a.Status)
	}
	if _, err := s.Get(ctx, admissionID, id); err != nil {
		return nil, err
	}

	attID := uuid.New()
	key := blobstore.Key(StoragePrefix, id.String()+"/"+attID.String(), up.FileName)
	obj, err := s.blobs.Put(ctx, key, up.ContentType, up.Content)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockAdmitted(ctx, admissionID); err != nil {
			return err
		}
		cur, err := s.Get(ctx, admissionID, id)
		if err != nil {
			return err
		}
		cur.Attachments = append(cur.Attachments, Attachment{
			ID:          attID,
			FileName:    up.FileName,
			Path:        obj.Key,
			ContentType: obj.ContentType,
			Size:        obj.Size,
			Hash:        obj.Hash,
			UploadedAt:  now,
			UploadedBy:  actorID,
		})
		actor := actorID
		cur.UpdatedBy = &actor
		cur.UpdatedAt = now
		if err := s.repo.Update(ctx, cur); err != nil {
			return err
		}
		rec = cur
		return nil
	})
	if err != nil {
		s.deleteBlob(ctx, key)
		return nil, err
	}
	return rec, nil
}

// RemoveAttachment detaches the attachment and deletes its blob after commit.
func (s *Service) RemoveAttachment(ctx context.Context, now time.Time, actorID, admissionID, id, attachmentID uuid.UUID) (*Record, error) {
	var (
		rec     *Record
		removed Attachment
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockAdmitted(ctx, admissionID); err != nil {
			return err
		}
		cur, err := s.Get(ctx, admissionID, id)
		if err != nil {
			return err
		}
		i := cur.attachment(attachmentID)
		if i < 0 {
			return ErrAttachmentNotFound
		}
		removed = cur.Attachments[i]
		cur.Attachments = append(cur.Attachments[:i], cur.Attachments[i+1:]...)
		actor := actorID
		cur.UpdatedBy = &actor
		cur.UpdatedAt = now
		if err := s.repo.Update(ctx, cur); err != nil {
			return err
		}
		rec = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deleteBlob(ctx, removed.Path)
	return rec, nil
}

// OpenAttachment returns the attachment's content. The caller closes it.
func (s *Service) OpenAttachment(ctx context.Context, admissionID, id, attachmentID uuid.UUID) (io.ReadCloser, *Attachment, error) {
	rec, err := s.Get(ctx, admissionID, id)
	if err != nil {
		return nil, nil, err
	}
	i := rec.attachment(attachmentID)
	if i < 0 {
		return nil, nil, ErrAttachmentNotFound
	}
	att := rec.Attachments[i]
	body, _, err := s.blobs.Get(ctx, att.Path)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return body, &att, nil
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("orphaned attachment blob")
	}
}
