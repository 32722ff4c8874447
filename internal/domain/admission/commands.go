package admission

import (
	"time"

	"github.com/google/uuid"
)

// Actor is the clinician or clerk performing a transition. The HTTP layer
// builds it from the authenticated token.
type Actor struct {
	ID   uuid.UUID
	Name string
}

// Each command below is the complete set of fields its transition accepts.
// Request bodies are decoded straight into them, so anything else a client
// sends never reaches the lifecycle.

type AdmitCommand struct {
	AdmissionType    Type       `json:"admission_type" validate:"required,oneof=outpatient inpatient"`
	DoctorID         *uuid.UUID `json:"doctor_id"`
	NurseID          *uuid.UUID `json:"nurse_id"`
	AdmissionDate    string     `json:"admission_date" validate:"required,datetime=2006-01-02"`
	AdmissionTime    string     `json:"admission_time" validate:"required,clock"`
	AdmittedFor      string     `json:"admitted_for" validate:"required,max=500"`
	PresentAddress   string     `json:"present_address" validate:"required,max=1000"`
	PoliceCase       string     `json:"police_case" validate:"required,oneof=yes no"`
	Service          string     `json:"service" validate:"required,max=255"`
	Ward             string     `json:"ward" validate:"required_if=AdmissionType inpatient,excluded_if=AdmissionType outpatient,max=100"`
	BedNumber        string     `json:"bed_number" validate:"required_if=AdmissionType inpatient,excluded_if=AdmissionType outpatient,max=50"`
	InitialDiagnosis string     `json:"initial_diagnosis" validate:"max=500"`
	ChiefComplaint   string     `json:"chief_complaint" validate:"max=1000"`
	VitalSigns       string     `json:"vital_signs" validate:"max=1000"`
	Remarks          string     `json:"remarks" validate:"max=1000"`
}

type DischargeCommand struct {
	DischargeType         string `json:"discharge_type" validate:"required,oneof=normal against_advice absconded transferred"`
	DischargeStatus       string `json:"discharge_status" validate:"required,oneof=improved unchanged worse"`
	DischargeDiagnosis    string `json:"discharge_diagnosis" validate:"required,max=500"`
	ClinicianSummary      string `json:"clinician_summary" validate:"required,max=1000"`
	DischargeInstructions string `json:"discharge_instructions" validate:"required,max=1000"`
	FollowUpInstructions  string `json:"follow_up_instructions" validate:"required,max=500"`
	FollowUpDate          string `json:"follow_up_date" validate:"required,datetime=2006-01-02"`
	Remarks               string `json:"remarks" validate:"max=1000"`
}

type ConfirmDeathCommand struct {
	CauseOfDeath string `json:"cause_of_death" validate:"required,max=255"`
	TimeOfDeath  string `json:"time_of_death" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Autopsy      string `json:"autopsy" validate:"required,oneof=yes no pending"`
	CertifiedBy  string `json:"certified_by" validate:"required,max=255"`
	Remarks      string `json:"remarks" validate:"max=1000"`
}

type ConvertCommand struct {
	Ward          string `json:"ward" validate:"required,max=100"`
	BedNumber     string `json:"bed_number" validate:"required,max=50"`
	AdmissionTime string `json:"admission_time" validate:"required,clock"`
	Remarks       string `json:"remarks" validate:"required,max=1000"`
}

type TransferCommand struct {
	Destination string `json:"transfer_destination" validate:"required,max=255"`
	Remarks     string `json:"remarks" validate:"max=1000"`
}

// UpdateCommand patches an admission outside the dedicated transitions.
// Nil fields are left untouched. Status and AdmissionType are accepted so
// the guard can reject them explicitly instead of silently dropping them.
type UpdateCommand struct {
	Status                *Status    `json:"status" validate:"omitempty,oneof=admitted discharged deceased transferred"`
	AdmissionType         *Type      `json:"admission_type" validate:"omitempty,oneof=outpatient inpatient"`
	DoctorID              *uuid.UUID `json:"doctor_id"`
	NurseID               *uuid.UUID `json:"nurse_id"`
	AdmissionTime         *string    `json:"admission_time" validate:"omitempty,clock"`
	AdmittedFor           *string    `json:"admitted_for" validate:"omitempty,max=500"`
	PresentAddress        *string    `json:"present_address" validate:"omitempty,max=1000"`
	PoliceCase            *string    `json:"police_case" validate:"omitempty,oneof=yes no"`
	Service               *string    `json:"service" validate:"omitempty,max=255"`
	Ward                  *string    `json:"ward" validate:"omitempty,max=100"`
	BedNumber             *string    `json:"bed_number" validate:"omitempty,max=50"`
	InitialDiagnosis      *string    `json:"initial_diagnosis" validate:"omitempty,max=500"`
	ChiefComplaint        *string    `json:"chief_complaint" validate:"omitempty,max=1000"`
	VitalSigns            *string    `json:"vital_signs" validate:"omitempty,max=1000"`
	Remarks               *string    `json:"remarks" validate:"omitempty,max=1000"`
	ClinicianSummary      *string    `json:"clinician_summary" validate:"omitempty,max=1000"`
	DischargeDiagnosis    *string    `json:"discharge_diagnosis" validate:"omitempty,max=500"`
	DischargeInstructions *string    `json:"discharge_instructions" validate:"omitempty,max=1000"`
	FollowUpInstructions  *string    `json:"follow_up_instructions" validate:"omitempty,max=500"`
	FollowUpDate          *string    `json:"follow_up_date" validate:"omitempty,datetime=2006-01-02"`
}

// Empty reports whether the command changes nothing.
func (c *UpdateCommand) Empty() bool {
	return *c == UpdateCommand{}
}

// apply writes the non-nil fields onto a. Dates are already validated.
func (c *UpdateCommand) apply(a *Admission) {
	if c.Status != nil {
		a.Status = *c.Status
	}
	if c.AdmissionType != nil {
		a.AdmissionType = *c.AdmissionType
	}
	if c.DoctorID != nil {
		a.DoctorID = cloneUUID(c.DoctorID)
	}
	if c.NurseID != nil {
		a.NurseID = cloneUUID(c.NurseID)
	}
	setString(&a.AdmissionTime, c.AdmissionTime)
	setString(&a.AdmittedFor, c.AdmittedFor)
	setString(&a.PresentAddress, c.PresentAddress)
	setString(&a.PoliceCase, c.PoliceCase)
	setString(&a.Service, c.Service)
	setString(&a.Ward, c.Ward)
	setString(&a.BedNumber, c.BedNumber)
	setString(&a.InitialDiagnosis, c.InitialDiagnosis)
	setString(&a.ChiefComplaint, c.ChiefComplaint)
	setString(&a.VitalSigns, c.VitalSigns)
	setString(&a.Remarks, c.Remarks)
	setString(&a.ClinicianSummary, c.ClinicianSummary)
	setString(&a.DischargeDiagnosis, c.DischargeDiagnosis)
	setString(&a.DischargeInstructions, c.DischargeInstructions)
	setString(&a.FollowUpInstructions, c.FollowUpInstructions)
	if c.FollowUpDate != nil {
		if *c.FollowUpDate == "" {
			a.FollowUpDate = nil
		} else if d, err := time.Parse(dateLayout, *c.FollowUpDate); err == nil {
			a.FollowUpDate = &d
		}
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
