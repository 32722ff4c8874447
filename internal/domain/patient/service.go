package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/validation"
)

// OpenAdmissions reports whether a patient still has an admitted encounter.
// It locks the patient row, so it must be called inside a transaction.
type OpenAdmissions interface {
	HasOpenAdmission(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// TxRunner runs fn as one atomic unit of work.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo       Repository
	admissions OpenAdmissions
	tx         TxRunner
	validate   *validation.Validator
}

func NewService(repo Repository, admissions OpenAdmissions, tx TxRunner) *Service {
	return &Service{repo: repo, admissions: admissions, tx: tx, validate: validation.New()}
}

func (s *Service) Create(ctx context.Context, now time.Time, cmd CreateCommand) (*Patient, error) {
	if fields := s.validate.Fields(&cmd); fields != nil {
		return nil, &validation.Error{Fields: fields}
	}
	dob := parseDate(cmd.DateOfBirth)
	if dob != nil && dob.After(now) {
		return nil, &validation.Error{Fields: map[string]string{"date_of_birth": "must not be in the future"}}
	}
	p := &Patient{
		ID:                   uuid.New(),
		Name:                 cmd.Name,
		NationalID:           optional(cmd.NationalID),
		Phone:                cmd.Phone,
		Address:              cmd.Address,
		Gender:               cmd.Gender,
		DateOfBirth:          dob,
		BloodType:            cmd.BloodType,
		KnownAllergies:       cmd.KnownAllergies,
		ChronicConditions:    cmd.ChronicConditions,
		NearestRelativeName:  cmd.NearestRelativeName,
		NearestRelativePhone: cmd.NearestRelativePhone,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, now time.Time, id uuid.UUID, cmd UpdateCommand) (*Patient, error) {
	if fields := s.validate.Fields(&cmd); fields != nil {
		return nil, &validation.Error{Fields: fields}
	}
	if cmd.DateOfBirth != nil {
		if dob := parseDate(*cmd.DateOfBirth); dob != nil && dob.After(now) {
			return nil, &validation.Error{Fields: map[string]string{"date_of_birth": "must not be in the future"}}
		}
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	cmd.apply(next)
	next.UpdatedAt = now
	if err := s.repo.Update(ctx, next, cur.VersionID); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete soft-deletes a patient whose admissions are all closed. The check
// and the delete share one transaction holding the patient lock, so no
// admission can open in between.
func (s *Service) Delete(ctx context.Context, now time.Time, id uuid.UUID) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		open, err := s.admissions.HasOpenAdmission(ctx, id)
		if err != nil {
			return fmt.Errorf("check open admissions: %w", err)
		}
		if open {
			return ErrHasOpenAdmission
		}
		p.DeletedAt = &now
		p.UpdatedAt = now
		return s.repo.SoftDelete(ctx, p)
	})
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, query, limit, offset)
}
