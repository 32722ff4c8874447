package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transition names the operation proposing a change. Legality is decided by
// which operation runs, never by which fields happen to be populated.
type Transition int

const (
	TransitionUpdate Transition = iota
	TransitionDischarge
	TransitionConfirmDeath
	TransitionForceClose
	TransitionConvert
	TransitionTransfer
)

func (t Transition) String() string {
	switch t {
	case TransitionUpdate:
		return "update"
	case TransitionDischarge:
		return "discharge"
	case TransitionConfirmDeath:
		return "confirm_death"
	case TransitionForceClose:
		return "force_close"
	case TransitionConvert:
		return "convert_to_inpatient"
	case TransitionTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Verdict is the guard's answer. A zero Reason means allowed.
type Verdict struct {
	Reason  Code
	Message string
	Fields  []string
}

func (v Verdict) Allowed() bool { return v.Reason == "" }

// Err converts a rejection into a state-conflict error carrying the current status.
func (v Verdict) Err(current Status) error {
	if v.Allowed() {
		return nil
	}
	e := newError(v.Reason, v.Message).withStatus(current)
	if len(v.Fields) > 0 {
		e.Fields = make(map[string]string, len(v.Fields))
		for _, f := range v.Fields {
			e.Fields[f] = string(v.Reason)
		}
	}
	return e
}

func reject(code Code, fields []string, format string, args ...interface{}) Verdict {
	return Verdict{Reason: code, Message: fmt.Sprintf(format, args...), Fields: fields}
}

type trackedField struct {
	name  string
	equal func(a, b *Admission) bool
}

func strField(name string, get func(*Admission) string) trackedField {
	return trackedField{name, func(a, b *Admission) bool { return get(a) == get(b) }}
}

func timeField(name string, get func(*Admission) *time.Time) trackedField {
	return trackedField{name, func(a, b *Admission) bool {
		x, y := get(a), get(b)
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return x.Equal(*y)
	}}
}

func uuidField(name string, get func(*Admission) *uuid.UUID) trackedField {
	return trackedField{name, func(a, b *Admission) bool {
		x, y := get(a), get(b)
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return *x == *y
	}}
}

// trackedFields lists every clinically meaningful column. Bookkeeping
// columns (version, audit stamps) are excluded.
var trackedFields = []trackedField{
	strField("admission_number", func(a *Admission) string { return a.AdmissionNumber }),
	uuidField("patient_id", func(a *Admission) *uuid.UUID { return &a.PatientID }),
	strField("admission_type", func(a *Admission) string { return string(a.AdmissionType) }),
	strField("status", func(a *Admission) string { return string(a.Status) }),
	uuidField("doctor_id", func(a *Admission) *uuid.UUID { return a.DoctorID }),
	uuidField("nurse_id", func(a *Admission) *uuid.UUID { return a.NurseID }),
	timeField("admission_date", func(a *Admission) *time.Time { return &a.AdmissionDate }),
	strField("admission_time", func(a *Admission) string { return a.AdmissionTime }),
	strField("admitted_for", func(a *Admission) string { return a.AdmittedFor }),
	strField("present_address", func(a *Admission) string { return a.PresentAddress }),
	strField("police_case", func(a *Admission) string { return a.PoliceCase }),
	strField("service", func(a *Admission) string { return a.Service }),
	strField("ward", func(a *Admission) string { return a.Ward }),
	strField("bed_number", func(a *Admission) string { return a.BedNumber }),
	strField("initial_diagnosis", func(a *Admission) string { return a.InitialDiagnosis }),
	strField("chief_complaint", func(a *Admission) string { return a.ChiefComplaint }),
	strField("vital_signs", func(a *Admission) string { return a.VitalSigns }),
	strField("remarks", func(a *Admission) string { return a.Remarks }),
	timeField("discharge_date", func(a *Admission) *time.Time { return a.DischargeDate }),
	strField("discharge_time", func(a *Admission) string { return a.DischargeTime }),
	strField("discharge_type", func(a *Admission) string { return a.DischargeType }),
	strField("discharge_status", func(a *Admission) string { return a.DischargeStatus }),
	strField("discharge_diagnosis", func(a *Admission) string { return a.DischargeDiagnosis }),
	strField("clinician_summary", func(a *Admission) string { return a.ClinicianSummary }),
	strField("discharge_instructions", func(a *Admission) string { return a.DischargeInstructions }),
	strField("follow_up_instructions", func(a *Admission) string { return a.FollowUpInstructions }),
	timeField("follow_up_date", func(a *Admission) *time.Time { return a.FollowUpDate }),
	strField("attending_doctor_name", func(a *Admission) string { return a.AttendingDoctorName }),
	strField("cause_of_death", func(a *Admission) string { return a.CauseOfDeath }),
	timeField("time_of_death", func(a *Admission) *time.Time { return a.TimeOfDeath }),
	strField("autopsy", func(a *Admission) string { return a.Autopsy }),
	strField("certified_by", func(a *Admission) string { return a.CertifiedBy }),
	strField("transfer_destination", func(a *Admission) string { return a.TransferDestination }),
}

var (
	deceasedMutable = map[string]bool{"remarks": true}
	closedMutable   = map[string]bool{
		"remarks":                true,
		"follow_up_instructions": true,
		"follow_up_date":         true,
		"discharge_instructions": true,
	}
)

// Diff returns the names of tracked fields that differ between prev and next.
func Diff(prev, next *Admission) []string {
	var changed []string
	for _, f := range trackedFields {
		if !f.equal(prev, next) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

func outside(changed []string, allowed map[string]bool) []string {
	var out []string
	for _, name := range changed {
		if !allowed[name] {
			out = append(out, name)
		}
	}
	return out
}

// Evaluate decides whether next may replace prev when proposed by via.
// Rules run in order and the first violation wins. No I/O.
func Evaluate(prev, next *Admission, via Transition) Verdict {
	changed := Diff(prev, next)

	// 1. Death is terminal.
	if prev.Status == StatusDeceased {
		if bad := outside(changed, deceasedMutable); len(bad) > 0 {
			return reject(CodeImmutableDeceasedRecord, bad,
				"admission %s is deceased, only remarks may change (attempted: %s)",
				prev.AdmissionNumber, strings.Join(bad, ", "))
		}
		return Verdict{}
	}

	// 2. Discharged and transferred accept follow-up edits only.
	if prev.Status == StatusDischarged || prev.Status == StatusTransferred {
		if bad := outside(changed, closedMutable); len(bad) > 0 {
			return reject(CodeImmutableDischargedRecord, bad,
				"admission %s is %s, only follow-up fields may change (attempted: %s)",
				prev.AdmissionNumber, prev.Status, strings.Join(bad, ", "))
		}
		return Verdict{}
	}

	// 3 and 4. Status changes need their dedicated transition and its bundle.
	if next.Status != prev.Status {
		if v := checkStatusChange(next, via); !v.Allowed() {
			return v
		}
	}

	// 5. No inpatient to outpatient.
	if prev.AdmissionType == TypeInpatient && next.AdmissionType == TypeOutpatient {
		return reject(CodeIrreversibleConversion, []string{"admission_type"},
			"admission %s cannot change from inpatient back to outpatient", prev.AdmissionNumber)
	}

	// 6. Outpatient to inpatient only through conversion.
	if prev.AdmissionType == TypeOutpatient && next.AdmissionType == TypeInpatient {
		if via != TransitionConvert || next.Ward == "" {
			return reject(CodeMustUseDedicatedTransition, []string{"admission_type"},
				"use convert-to-inpatient to change the admission type")
		}
	}

	// 7. Ward and bed belong to inpatients.
	if next.AdmissionType == TypeOutpatient {
		var bad []string
		if next.Ward != "" {
			bad = append(bad, "ward")
		}
		if next.BedNumber != "" {
			bad = append(bad, "bed_number")
		}
		if len(bad) > 0 {
			return reject(CodeFieldNotAllowedForType, bad,
				"%s cannot be set on an outpatient admission", strings.Join(bad, " and "))
		}
	}

	return Verdict{}
}

func checkStatusChange(next *Admission, via Transition) Verdict {
	switch next.Status {
	case StatusDeceased:
		if via != TransitionConfirmDeath || next.CauseOfDeath == "" || next.DischargeDate == nil ||
			next.DischargeStatus != DischargeStatusDead {
			return reject(CodeMustUseDedicatedTransition, []string{"status"},
				"use confirm-death to mark an admission deceased")
		}
	case StatusDischarged:
		if (via != TransitionDischarge && via != TransitionForceClose) || next.DischargeType == "" ||
			next.DischargeStatus == "" || next.DischargeDate == nil {
			return reject(CodeMustUseDedicatedTransition, []string{"status"},
				"use discharge to close an admission")
		}
	case StatusTransferred:
		if via != TransitionTransfer || next.TransferDestination == "" {
			return reject(CodeMustUseDedicatedTransition, []string{"status"},
				"use transfer to move an admission to another facility")
		}
	default:
		return reject(CodeMustUseDedicatedTransition, []string{"status"},
			"status cannot change to %q", next.Status)
	}
	return Verdict{}
}
