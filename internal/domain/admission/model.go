package admission

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOutpatient Type = "outpatient"
	TypeInpatient  Type = "inpatient"
)

type Status string

const (
	StatusAdmitted    Status = "admitted"
	StatusDischarged  Status = "discharged"
	StatusDeceased    Status = "deceased"
	StatusTransferred Status = "transferred"
)

const (
	DischargeTypeNormal        = "normal"
	DischargeTypeAgainstAdvice = "against_advice"
	DischargeTypeAbsconded     = "absconded"
	DischargeTypeTransferred   = "transferred"

	DischargeStatusImproved  = "improved"
	DischargeStatusUnchanged = "unchanged"
	DischargeStatusWorse     = "worse"
	DischargeStatusDead      = "dead"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Admission maps to the admission table.
type Admission struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	AdmissionNumber string     `db:"admission_number" json:"admission_number"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	AdmissionType   Type       `db:"admission_type" json:"admission_type"`
	Status          Status     `db:"status" json:"status"`
	DoctorID        *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	NurseID         *uuid.UUID `db:"nurse_id" json:"nurse_id,omitempty"`

	AdmissionDate    time.Time `db:"admission_date" json:"admission_date"`
	AdmissionTime    string    `db:"admission_time" json:"admission_time"`
	AdmittedFor      string    `db:"admitted_for" json:"admitted_for"`
	PresentAddress   string    `db:"present_address" json:"present_address"`
	PoliceCase       string    `db:"police_case" json:"police_case"`
	Service          string    `db:"service" json:"service"`
	Ward             string    `db:"ward" json:"ward,omitempty"`
	BedNumber        string    `db:"bed_number" json:"bed_number,omitempty"`
	InitialDiagnosis string    `db:"initial_diagnosis" json:"initial_diagnosis,omitempty"`
	ChiefComplaint   string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	VitalSigns       string    `db:"vital_signs" json:"vital_signs,omitempty"`
	Remarks          string    `db:"remarks" json:"remarks,omitempty"`

	DischargeDate         *time.Time `db:"discharge_date" json:"discharge_date,omitempty"`
	DischargeTime         string     `db:"discharge_time" json:"discharge_time,omitempty"`
	DischargeType         string     `db:"discharge_type" json:"discharge_type,omitempty"`
	DischargeStatus       string     `db:"discharge_status" json:"discharge_status,omitempty"`
	DischargeDiagnosis    string     `db:"discharge_diagnosis" json:"discharge_diagnosis,omitempty"`
	ClinicianSummary      string     `db:"clinician_summary" json:"clinician_summary,omitempty"`
	DischargeInstructions string     `db:"discharge_instructions" json:"discharge_instructions,omitempty"`
	FollowUpInstructions  string     `db:"follow_up_instructions" json:"follow_up_instructions,omitempty"`
	FollowUpDate          *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	AttendingDoctorName   string     `db:"attending_doctor_name" json:"attending_doctor_name,omitempty"`

	CauseOfDeath string     `db:"cause_of_death" json:"cause_of_death,omitempty"`
	TimeOfDeath  *time.Time `db:"time_of_death" json:"time_of_death,omitempty"`
	Autopsy      string     `db:"autopsy" json:"autopsy,omitempty"`
	CertifiedBy  string     `db:"certified_by" json:"certified_by,omitempty"`

	TransferDestination string `db:"transfer_destination" json:"transfer_destination,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ActiveInpatient reports whether a occupies the patient's single inpatient slot.
func (a *Admission) ActiveInpatient() bool {
	return a.Status == StatusAdmitted && a.AdmissionType == TypeInpatient
}

// Clone returns a deep copy so a proposed state can be built without
// touching the loaded one.
func (a *Admission) Clone() *Admission {
	if a == nil {
		return nil
	}
	c := *a
	c.DoctorID = cloneUUID(a.DoctorID)
	c.NurseID = cloneUUID(a.NurseID)
	c.DischargeDate = cloneTime(a.DischargeDate)
	c.FollowUpDate = cloneTime(a.FollowUpDate)
	c.TimeOfDeath = cloneTime(a.TimeOfDeath)
	c.CreatedBy = cloneUUID(a.CreatedBy)
	c.UpdatedBy = cloneUUID(a.UpdatedBy)
	c.DeletedAt = cloneTime(a.DeletedAt)
	return &c
}

// Summary is the identifying slice of an admission returned with
// aggregate conflicts.
type Summary struct {
	ID              uuid.UUID  `json:"id"`
	AdmissionNumber string     `json:"admission_number"`
	AdmissionType   Type       `json:"admission_type"`
	Status          Status     `json:"status"`
	AdmissionDate   string     `json:"admission_date"`
	Ward            string     `json:"ward,omitempty"`
	BedNumber       string     `json:"bed_number,omitempty"`
	CauseOfDeath    string     `json:"cause_of_death,omitempty"`
	TimeOfDeath     *time.Time `json:"time_of_death,omitempty"`
}

func (a *Admission) Summary() *Summary {
	return &Summary{
		ID:              a.ID,
		AdmissionNumber: a.AdmissionNumber,
		AdmissionType:   a.AdmissionType,
		Status:          a.Status,
		AdmissionDate:   a.AdmissionDate.Format(dateLayout),
		Ward:            a.Ward,
		BedNumber:       a.BedNumber,
		CauseOfDeath:    a.CauseOfDeath,
		TimeOfDeath:     a.TimeOfDeath,
	}
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// dateOf returns the calendar date of t, as seen in t's location, at UTC
// midnight. DATE columns round-trip in the same shape.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
