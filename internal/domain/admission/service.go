package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/admissions/internal/platform/db"
	"github.com/ehr/admissions/internal/platform/events"
	"github.com/ehr/admissions/internal/platform/validation"
)

const numberAttempts = 3

// Lifecycle runs the admission transitions. Every transition is one
// transaction that locks the patient row, then the admissions it reads, so
// concurrent transitions on the same patient serialize.
type Lifecycle struct {
	repo     Repository
	tx       TxRunner
	numbers  *Generator
	validate *validation.Validator
	events   events.Publisher
}

func NewLifecycle(repo Repository, tx TxRunner, pub events.Publisher) *Lifecycle {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Lifecycle{
		repo:     repo,
		tx:       tx,
		numbers:  NewGenerator(repo),
		validate: validation.New(),
		events:   pub,
	}
}

// DeathResult is returned by ConfirmDeath.
type DeathResult struct {
	Admission      *Admission   `json:"admission"`
	ClosedSiblings []*Admission `json:"closed_siblings"`
}

// Admit opens a new admission for patientID.
func (l *Lifecycle) Admit(ctx context.Context, by Actor, now time.Time, patientID uuid.UUID, cmd AdmitCommand) (*Admission, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}
	admitted, err := time.Parse(dateLayout, cmd.AdmissionDate)
	if err != nil {
		return nil, fieldError("admission_date", "must be a date in YYYY-MM-DD format")
	}
	if admitted.After(dateOf(now)) {
		return nil, fieldError("admission_date", "must not be in the future")
	}

	var created *Admission
	err = l.tx.InTx(ctx, func(ctx context.Context) error {
		created = nil
		if err := l.repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		siblings, err := l.repo.ListByPatientForUpdate(ctx, patientID)
		if err != nil {
			return fmt.Errorf("load patient admissions: %w", err)
		}
		if death := DeathRecord(siblings); death != nil {
			return patientDeceased(death)
		}
		if cmd.AdmissionType == TypeInpatient {
			if active := ActiveInpatient(siblings, uuid.Nil); active != nil {
				return activeInpatientExists(active)
			}
		}

		a := &Admission{
			ID:               uuid.New(),
			PatientID:        patientID,
			AdmissionType:    cmd.AdmissionType,
			Status:           StatusAdmitted,
			DoctorID:         cloneUUID(cmd.DoctorID),
			NurseID:          cloneUUID(cmd.NurseID),
			AdmissionDate:    admitted,
			AdmissionTime:    cmd.AdmissionTime,
			AdmittedFor:      cmd.AdmittedFor,
			PresentAddress:   cmd.PresentAddress,
			PoliceCase:       cmd.PoliceCase,
			Service:          cmd.Service,
			Ward:             cmd.Ward,
			BedNumber:        cmd.BedNumber,
			InitialDiagnosis: cmd.InitialDiagnosis,
			ChiefComplaint:   cmd.ChiefComplaint,
			VitalSigns:       cmd.VitalSigns,
			Remarks:          cmd.Remarks,
			CreatedAt:        now,
		}
		stamp(a, now, by)
		a.CreatedBy = cloneUUID(a.UpdatedBy)

		if err := l.insertNumbered(ctx, a, now.Year()); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, by, now, EventAdmissionCreated, created, AdmissionCreated{Admission: created})
	return created, nil
}

func (l *Lifecycle) insertNumbered(ctx context.Context, a *Admission, year int) error {
	for attempt := 0; attempt < numberAttempts; attempt++ {
		number, err := l.numbers.Next(ctx, year)
		if err != nil {
			return err
		}
		a.AdmissionNumber = number
		err = l.repo.Insert(ctx, a)
		if errors.Is(err, ErrDuplicateNumber) {
			continue
		}
		if err != nil {
			return fmt.Errorf("insert admission: %w", err)
		}
		return nil
	}
	return fmt.Errorf("allocate admission number for %d: %w", year, ErrDuplicateNumber)
}

// Discharge closes an admitted admission.
func (l *Lifecycle) Discharge(ctx context.Context, by Actor, now time.Time, id uuid.UUID, cmd DischargeCommand) (*Admission, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}
	followUp, err := time.Parse(dateLayout, cmd.FollowUpDate)
	if err != nil {
		return nil, fieldError("follow_up_date", "must be a date in YYYY-MM-DD format")
	}
	if followUp.Before(dateOf(now)) {
		return nil, fieldError("follow_up_date", "must be today or later")
	}

	var discharged *Admission
	err = l.tx.InTx(ctx, func(ctx context.Context) error {
		discharged = nil
		cur, err := l.lockAdmission(ctx, id)
		if err != nil {
			return err
		}
		switch cur.Status {
		case StatusAdmitted:
		case StatusDeceased:
			return newError(CodeAlreadyDeceased,
				fmt.Sprintf("admission %s is deceased and cannot be discharged", cur.AdmissionNumber)).
				withStatus(cur.Status)
		default:
			return newError(CodeNotCurrentlyAdmitted,
				fmt.Sprintf("admission %s is %s, only admitted patients can be discharged", cur.AdmissionNumber, cur.Status)).
				withStatus(cur.Status)
		}

		next := cur.Clone()
		next.Status = StatusDischarged
		next.DischargeType = cmd.DischargeType
		next.DischargeStatus = cmd.DischargeStatus
		next.DischargeDiagnosis = cmd.DischargeDiagnosis
		next.ClinicianSummary = cmd.ClinicianSummary
		next.DischargeInstructions = cmd.DischargeInstructions
		next.FollowUpInstructions = cmd.FollowUpInstructions
		next.FollowUpDate = &followUp
		setCloseStamp(next, now)
		next.AttendingDoctorName = by.Name
		if cmd.Remarks != "" {
			next.Remarks = appendRemark(cur.Remarks, cmd.Remarks)
		}
		stamp(next, now, by)

		if err := Evaluate(cur, next, TransitionDischarge).Err(cur.Status); err != nil {
			return err
		}
		if err := l.repo.Save(ctx, next, cur.VersionID); err != nil {
			return err
		}
		discharged = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, by, now, EventPatientDischarged, discharged, PatientDischarged{Admission: discharged})
	return discharged, nil
}

// ConfirmDeath records the patient's death against an admitted admission and
// force-closes every other admitted admission of the same patient.
func (l *Lifecycle) ConfirmDeath(ctx context.Context, by Actor, now time.Time, id uuid.UUID, cmd ConfirmDeathCommand) (*DeathResult, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}
	diedAt, err := time.Parse(time.RFC3339, cmd.TimeOfDeath)
	if err != nil {
		return nil, fieldError("time_of_death", "must be an RFC 3339 timestamp")
	}
	if diedAt.After(now) {
		return nil, fieldError("time_of_death", "must not be in the future")
	}

	var result *DeathResult
	err = l.tx.InTx(ctx, func(ctx context.Context) error {
		result = nil
		cur, all, err := l.lockPatientAdmissions(ctx, id)
		if err != nil {
			return err
		}

		if death := DeathRecord(all); death != nil {
			msg := fmt.Sprintf("patient death was already confirmed in admission %s", death.AdmissionNumber)
			if death.ID == cur.ID {
				msg = fmt.Sprintf("death was already confirmed in this admission (%s)", cur.AdmissionNumber)
			}
			return newError(CodeDeathAlreadyConfirmed, msg).withStatus(cur.Status).withConflict(death)
		}

		switch cur.Status {
		case StatusAdmitted:
		case StatusDischarged:
			return newError(CodeInvalidStatusForDeathConfirmation, fmt.Sprintf(
				"admission %s was already discharged; a death after discharge must be recorded against a new admission",
				cur.AdmissionNumber)).withStatus(cur.Status)
		case StatusTransferred:
			return newError(CodeInvalidStatusForDeathConfirmation, fmt.Sprintf(
				"admission %s was transferred out; the receiving facility must confirm the death",
				cur.AdmissionNumber)).withStatus(cur.Status)
		default:
			return newError(CodeInvalidStatusForDeathConfirmation, fmt.Sprintf(
				"admission %s is %s, death can only be confirmed on an admitted admission",
				cur.AdmissionNumber, cur.Status)).withStatus(cur.Status)
		}

		next := cur.Clone()
		next.Status = StatusDeceased
		next.CauseOfDeath = cmd.CauseOfDeath
		next.TimeOfDeath = &diedAt
		next.Autopsy = cmd.Autopsy
		next.CertifiedBy = cmd.CertifiedBy
		next.DischargeStatus = DischargeStatusDead
		setCloseStamp(next, now)
		if cmd.Remarks != "" {
			next.Remarks = appendRemark(cur.Remarks, cmd.Remarks)
		}
		stamp(next, now, by)

		if err := Evaluate(cur, next, TransitionConfirmDeath).Err(cur.Status); err != nil {
			return err
		}
		if err := l.repo.Save(ctx, next, cur.VersionID); err != nil {
			return err
		}

		closed := CloseSiblings(all, next, now, by)
		for _, sib := range closed {
			prev := findAdmission(all, sib.ID)
			if err := Evaluate(prev, sib, TransitionForceClose).Err(prev.Status); err != nil {
				return fmt.Errorf("close admission %s: %w", prev.AdmissionNumber, err)
			}
			if err := l.repo.Save(ctx, sib, prev.VersionID); err != nil {
				return err
			}
		}

		result = &DeathResult{Admission: next, ClosedSiblings: closed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summaries := make([]*Summary, 0, len(result.ClosedSiblings))
	for _, sib := range result.ClosedSiblings {
		summaries = append(summaries, sib.Summary())
	}
	l.publish(ctx, by, now, EventPatientDeathConfirmed, result.Admission,
		PatientDeathConfirmed{Admission: result.Admission, ClosedSiblings: summaries})
	return result, nil
}

// ConvertToInpatient turns an admitted outpatient visit into an inpatient stay.
func (l *Lifecycle) ConvertToInpatient(ctx context.Context, by Actor, now time.Time, id uuid.UUID, cmd ConvertCommand) (*Admission, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}

	var converted *Admission
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		converted = nil
		cur, all, err := l.lockPatientAdmissions(ctx, id)
		if err != nil {
			return err
		}

		if death := DeathRecord(all); death != nil {
			return patientDeceased(death)
		}
		if cur.AdmissionType == TypeInpatient {
			return newError(CodeAlreadyInpatient,
				fmt.Sprintf("admission %s is already an inpatient admission", cur.AdmissionNumber)).
				withStatus(cur.Status)
		}
		if cur.Status != StatusAdmitted {
			return newError(CodeCannotConvertClosedVisit,
				fmt.Sprintf("admission %s is %s, only active outpatient visits can be converted", cur.AdmissionNumber, cur.Status)).
				withStatus(cur.Status)
		}
		if active := ActiveInpatient(all, cur.ID); active != nil {
			return activeInpatientExists(active)
		}

		next := cur.Clone()
		next.AdmissionType = TypeInpatient
		next.Ward = cmd.Ward
		next.BedNumber = cmd.BedNumber
		next.AdmissionTime = cmd.AdmissionTime
		next.Remarks = appendRemark(cur.Remarks, cmd.Remarks)
		stamp(next, now, by)

		if err := Evaluate(cur, next, TransitionConvert).Err(cur.Status); err != nil {
			return err
		}
		if err := l.repo.Save(ctx, next, cur.VersionID); err != nil {
			return err
		}
		converted = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, by, now, EventConvertedToInpatient, converted,
		AdmissionConvertedToInpatient{Admission: converted, Ward: converted.Ward, BedNumber: converted.BedNumber})
	return converted, nil
}

// Transfer closes an admitted admission because the patient moved to
// another facility.
func (l *Lifecycle) Transfer(ctx context.Context, by Actor, now time.Time, id uuid.UUID, cmd TransferCommand) (*Admission, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}

	var transferred *Admission
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		transferred = nil
		cur, err := l.lockAdmission(ctx, id)
		if err != nil {
			return err
		}
		switch cur.Status {
		case StatusAdmitted:
		case StatusDeceased:
			return newError(CodeAlreadyDeceased,
				fmt.Sprintf("admission %s is deceased and cannot be transferred", cur.AdmissionNumber)).
				withStatus(cur.Status)
		default:
			return newError(CodeNotCurrentlyAdmitted,
				fmt.Sprintf("admission %s is %s, only admitted patients can be transferred", cur.AdmissionNumber, cur.Status)).
				withStatus(cur.Status)
		}

		next := cur.Clone()
		next.Status = StatusTransferred
		next.TransferDestination = cmd.Destination
		next.DischargeType = DischargeTypeTransferred
		setCloseStamp(next, now)
		next.AttendingDoctorName = by.Name
		if cmd.Remarks != "" {
			next.Remarks = appendRemark(cur.Remarks, cmd.Remarks)
		}
		stamp(next, now, by)

		if err := Evaluate(cur, next, TransitionTransfer).Err(cur.Status); err != nil {
			return err
		}
		if err := l.repo.Save(ctx, next, cur.VersionID); err != nil {
			return err
		}
		transferred = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, by, now, EventAdmissionTransferred, transferred,
		AdmissionTransferred{Admission: transferred, Destination: transferred.TransferDestination})
	return transferred, nil
}

// Update applies a generic patch. The guard decides which fields the current
// status still allows; status and type changes are always refused here.
func (l *Lifecycle) Update(ctx context.Context, by Actor, now time.Time, id uuid.UUID, cmd UpdateCommand) (*Admission, error) {
	if fields := l.validate.Fields(&cmd); fields != nil {
		return nil, ValidationError(fields)
	}
	if cmd.Empty() {
		return nil, ValidationError(map[string]string{"_": "no fields to update"})
	}
	if cmd.FollowUpDate != nil && *cmd.FollowUpDate != "" {
		d, err := time.Parse(dateLayout, *cmd.FollowUpDate)
		if err != nil {
			return nil, fieldError("follow_up_date", "must be a date in YYYY-MM-DD format")
		}
		if d.Before(dateOf(now)) {
			return nil, fieldError("follow_up_date", "must be today or later")
		}
	}

	var updated *Admission
	var changed []string
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		updated, changed = nil, nil
		cur, err := l.lockAdmission(ctx, id)
		if err != nil {
			return err
		}

		next := cur.Clone()
		cmd.apply(next)
		changed = Diff(cur, next)
		if len(changed) == 0 {
			updated = cur
			return nil
		}

		if err := Evaluate(cur, next, TransitionUpdate).Err(cur.Status); err != nil {
			return err
		}
		if next.AdmissionType == TypeInpatient && next.Status == StatusAdmitted && (next.Ward == "" || next.BedNumber == "") {
			return ValidationError(map[string]string{
				"ward":       "is required for inpatient admissions",
				"bed_number": "is required for inpatient admissions",
			})
		}
		stamp(next, now, by)
		if err := l.repo.Save(ctx, next, cur.VersionID); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		l.publish(ctx, by, now, EventAdmissionUpdated, updated, AdmissionUpdated{Admission: updated, Changed: changed})
	}
	return updated, nil
}

// GetAdmission returns the admission or ErrNotFound.
func (l *Lifecycle) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return l.repo.GetByID(ctx, id)
}

// GetPatientDeathRecord returns the patient's deceased admission, or nil.
func (l *Lifecycle) GetPatientDeathRecord(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	all, err := l.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient admissions: %w", err)
	}
	return DeathRecord(all), nil
}

// ListForPatient returns the patient's admissions, newest first.
func (l *Lifecycle) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return l.repo.ListByPatient(ctx, patientID)
}

// HasOpenAdmission reports whether any of the patient's admissions is still
// admitted. It takes the patient lock and holds it until the caller's
// transaction ends, so it must run inside InTx.
func (l *Lifecycle) HasOpenAdmission(ctx context.Context, patientID uuid.UUID) (bool, error) {
	if err := l.repo.LockPatient(ctx, patientID); err != nil {
		return false, err
	}
	all, err := l.repo.ListByPatientForUpdate(ctx, patientID)
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a.Status == StatusAdmitted {
			return true, nil
		}
	}
	return false, nil
}

// Search lists admissions matching f.
func (l *Lifecycle) Search(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	return l.repo.Search(ctx, f, limit, offset)
}

// Statistics summarizes live admissions for the month containing now.
func (l *Lifecycle) Statistics(ctx context.Context, now time.Time) (*Statistics, error) {
	return l.repo.Statistics(ctx, now)
}

// lockAdmission locks the owning patient, then the admission row.
func (l *Lifecycle) lockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	probe, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.repo.LockPatient(ctx, probe.PatientID); err != nil {
		return nil, err
	}
	return l.repo.GetForUpdate(ctx, id)
}

// lockPatientAdmissions locks the owning patient and all of its admissions,
// returning the target admission alongside them.
func (l *Lifecycle) lockPatientAdmissions(ctx context.Context, id uuid.UUID) (*Admission, []*Admission, error) {
	probe, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := l.repo.LockPatient(ctx, probe.PatientID); err != nil {
		return nil, nil, err
	}
	all, err := l.repo.ListByPatientForUpdate(ctx, probe.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load patient admissions: %w", err)
	}
	cur := findAdmission(all, id)
	if cur == nil {
		return nil, nil, newError(CodeNotFound, "admission not found")
	}
	return cur, all, nil
}

func (l *Lifecycle) publish(ctx context.Context, by Actor, now time.Time, typ string, a *Admission, payload interface{}) {
	// The transition is committed; publishers report their own delivery failures.
	_ = l.events.Publish(ctx, events.Envelope{
		ID:          uuid.New(),
		Type:        typ,
		OccurredAt:  now,
		ActorID:     by.ID,
		Facility:    db.FacilityFromContext(ctx),
		AggregateID: a.ID,
		PatientID:   a.PatientID,
		Payload:     payload,
	})
}

func findAdmission(all []*Admission, id uuid.UUID) *Admission {
	for _, a := range all {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func patientDeceased(death *Admission) *Error {
	return newError(CodePatientDeceased, fmt.Sprintf(
		"patient death was confirmed in admission %s; no further admissions are possible", death.AdmissionNumber)).
		withConflict(death)
}

func activeInpatientExists(active *Admission) *Error {
	return newError(CodeActiveInpatientExists, fmt.Sprintf(
		"patient is already admitted as an inpatient in admission %s (ward %s, bed %s)",
		active.AdmissionNumber, active.Ward, active.BedNumber)).
		withConflict(active)
}

func setCloseStamp(a *Admission, now time.Time) {
	day := dateOf(now)
	a.DischargeDate = &day
	a.DischargeTime = now.Format(timeLayout)
}

func stamp(a *Admission, now time.Time, by Actor) {
	a.UpdatedAt = now
	if by.ID != uuid.Nil {
		id := by.ID
		a.UpdatedBy = &id
	}
}
