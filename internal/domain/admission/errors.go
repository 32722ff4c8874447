package admission

import (
	"errors"
	"fmt"
)

// Kind groups error codes by how a caller should react to them.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindStateConflict
	KindAggregateConflict
	KindNotFound
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindAggregateConflict:
		return "aggregate_conflict"
	case KindNotFound:
		return "not_found"
	case KindConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

type Code string

const (
	CodeValidationFailed                  Code = "ValidationFailed"
	CodeNotFound                          Code = "NotFound"
	CodeNotCurrentlyAdmitted              Code = "NotCurrentlyAdmitted"
	CodeAlreadyDeceased                   Code = "AlreadyDeceased"
	CodeInvalidStatusForDeathConfirmation Code = "InvalidStatusForDeathConfirmation"
	CodeAlreadyInpatient                  Code = "AlreadyInpatient"
	CodeCannotConvertClosedVisit          Code = "CannotConvertClosedVisit"
	CodeImmutableDeceasedRecord           Code = "ImmutableDeceasedRecord"
	CodeImmutableDischargedRecord         Code = "ImmutableDischargedRecord"
	CodeMustUseDedicatedTransition        Code = "MustUseDedicatedTransition"
	CodeIrreversibleConversion            Code = "IrreversibleConversion"
	CodeFieldNotAllowedForType            Code = "FieldNotAllowedForType"
	CodePatientDeceased                   Code = "PatientDeceased"
	CodeActiveInpatientExists             Code = "ActiveInpatientExists"
	CodeDeathAlreadyConfirmed             Code = "DeathAlreadyConfirmed"
	CodeVersionConflict                   Code = "VersionConflict"
)

var codeKinds = map[Code]Kind{
	CodeValidationFailed:                  KindValidation,
	CodeNotFound:                          KindNotFound,
	CodeNotCurrentlyAdmitted:              KindStateConflict,
	CodeAlreadyDeceased:                   KindStateConflict,
	CodeInvalidStatusForDeathConfirmation: KindStateConflict,
	CodeAlreadyInpatient:                  KindStateConflict,
	CodeCannotConvertClosedVisit:          KindStateConflict,
	CodeImmutableDeceasedRecord:           KindStateConflict,
	CodeImmutableDischargedRecord:         KindStateConflict,
	CodeMustUseDedicatedTransition:        KindStateConflict,
	CodeIrreversibleConversion:            KindStateConflict,
	CodeFieldNotAllowedForType:            KindStateConflict,
	CodePatientDeceased:                   KindAggregateConflict,
	CodeActiveInpatientExists:             KindAggregateConflict,
	CodeDeathAlreadyConfirmed:             KindAggregateConflict,
	CodeVersionConflict:                   KindConcurrency,
}

// Error is a lifecycle rejection. State conflicts carry CurrentStatus,
// aggregate conflicts carry the conflicting admission, validation failures
// carry per-field messages.
type Error struct {
	Code          Code              `json:"code"`
	Kind          Kind              `json:"-"`
	Message       string            `json:"message"`
	CurrentStatus Status            `json:"current_status,omitempty"`
	Conflicting   *Admission        `json:"-"`
	Fields        map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if e.CurrentStatus != "" {
		return fmt.Sprintf("%s: %s (status %s)", e.Code, e.Message, e.CurrentStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Kind: codeKinds[code], Message: msg}
}

func (e *Error) withStatus(s Status) *Error {
	e.CurrentStatus = s
	return e
}

func (e *Error) withConflict(a *Admission) *Error {
	e.Conflicting = a
	return e
}

// Sentinels for errors.Is.
var (
	ErrValidation            = newError(CodeValidationFailed, "validation failed")
	ErrNotFound              = newError(CodeNotFound, "admission not found")
	ErrPatientNotFound       = newError(CodeNotFound, "patient not found")
	ErrNotCurrentlyAdmitted  = newError(CodeNotCurrentlyAdmitted, "admission is not currently admitted")
	ErrAlreadyDeceased       = newError(CodeAlreadyDeceased, "patient is already deceased in this admission")
	ErrInvalidDeathStatus    = newError(CodeInvalidStatusForDeathConfirmation, "death can only be confirmed on an active admission")
	ErrAlreadyInpatient      = newError(CodeAlreadyInpatient, "admission is already inpatient")
	ErrCannotConvertClosed   = newError(CodeCannotConvertClosedVisit, "only active outpatient visits can be converted")
	ErrImmutableDeceased     = newError(CodeImmutableDeceasedRecord, "deceased admission records are immutable")
	ErrImmutableDischarged   = newError(CodeImmutableDischargedRecord, "discharged admission records only accept follow-up edits")
	ErrMustUseTransition     = newError(CodeMustUseDedicatedTransition, "change requires its dedicated transition")
	ErrIrreversibleConvert   = newError(CodeIrreversibleConversion, "inpatient admissions cannot revert to outpatient")
	ErrFieldNotAllowed       = newError(CodeFieldNotAllowedForType, "field not allowed for admission type")
	ErrPatientDeceased       = newError(CodePatientDeceased, "patient is deceased")
	ErrActiveInpatientExists = newError(CodeActiveInpatientExists, "patient already has an active inpatient admission")
	ErrDeathAlreadyConfirmed = newError(CodeDeathAlreadyConfirmed, "death has already been confirmed for this patient")
	ErrVersionConflict       = newError(CodeVersionConflict, "admission was modified concurrently, reload and retry")
)

// AsError unwraps err to a lifecycle *Error, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ValidationError builds a ValidationFailed error from field messages.
func ValidationError(fields map[string]string) *Error {
	e := newError(CodeValidationFailed, "validation failed")
	e.Fields = fields
	return e
}

func fieldError(field, msg string) *Error {
	return ValidationError(map[string]string{field: msg})
}
