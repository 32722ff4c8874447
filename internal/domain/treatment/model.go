package treatment

import (
	"time"

	"github.com/google/uuid"
)

// Types lists the accepted treatment_type values.
var Types = []string{
	"surgery", "radiotherapy", "chemotherapy", "targeted_therapy", "hormone_therapy",
	"immunotherapy", "intervention_therapy", "medication", "physical_therapy",
	"supportive_care", "diagnostic", "consultation", "procedure", "other",
}

// Outcomes lists the accepted outcome values.
var Outcomes = []string{"pending", "successful", "partial", "unsuccessful", "ongoing", "completed"}

// StoragePrefix is the object key prefix for attachments.
const StoragePrefix = "treatment-attachments"

// Attachment references a blob uploaded against a record.
type Attachment struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"filename"`
	Path        string    `json:"path"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	UploadedBy  uuid.UUID `json:"uploaded_by"`
}

// Record is a treatment given during an admission. PatientID is copied from
// the admission when the record is created.
type Record struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	AdmissionID        uuid.UUID    `db:"admission_id" json:"admission_id"`
	PatientID          uuid.UUID    `db:"patient_id" json:"patient_id"`
	TreatmentType      string       `db:"treatment_type" json:"treatment_type"`
	TreatmentName      string       `db:"treatment_name" json:"treatment_name"`
	Description        string       `db:"description" json:"description,omitempty"`
	Dosage             string       `db:"dosage" json:"dosage,omitempty"`
	Results            string       `db:"results" json:"results,omitempty"`
	Findings           string       `db:"findings" json:"findings,omitempty"`
	Outcome            string       `db:"outcome" json:"outcome,omitempty"`
	Notes              string       `db:"notes" json:"notes,omitempty"`
	Medications        string       `db:"medications" json:"medications,omitempty"`
	PreProcedureNotes  string       `db:"pre_procedure_notes" json:"pre_procedure_notes,omitempty"`
	PostProcedureNotes string       `db:"post_procedure_notes" json:"post_procedure_notes,omitempty"`
	Complications      string       `db:"complications" json:"complications,omitempty"`
	TreatmentDate      time.Time    `db:"treatment_date" json:"treatment_date"`
	TreatmentTime      string       `db:"treatment_time" json:"treatment_time,omitempty"`
	DoctorID           *uuid.UUID   `db:"doctor_id" json:"doctor_id,omitempty"`
	NurseID            *uuid.UUID   `db:"nurse_id" json:"nurse_id,omitempty"`
	Attachments        []Attachment `db:"attachments" json:"attachments"`
	CreatedBy          *uuid.UUID   `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy          *uuid.UUID   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time   `db:"deleted_at" json:"-"`
}

func (r *Record) IsDeleted() bool { return r.DeletedAt != nil }

func (r *Record) Clone() *Record {
	c := *r
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	return &c
}

// attachment returns the index of the attachment with id, or -1.
func (r *Record) attachment(id uuid.UUID) int {
	for i := range r.Attachments {
		if r.Attachments[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateCommand carries a new record. Empty TreatmentName defaults to the
// type; empty TreatmentDate defaults to the current day.
type CreateCommand struct {
	TreatmentType      string     `json:"treatment_type" validate:"required,oneof=surgery radiotherapy chemotherapy targeted_therapy hormone_therapy immunotherapy intervention_therapy medication physical_therapy supportive_care diagnostic consultation procedure other"`
	TreatmentName      string     `json:"treatment_name" validate:"max=255"`
	Description        string     `json:"description" validate:"max=1000"`
	Notes              string     `json:"notes" validate:"max=1000"`
	Medications        string     `json:"medications" validate:"max=500"`
	Dosage             string     `json:"dosage" validate:"max=255"`
	TreatmentDate      string     `json:"treatment_date" validate:"omitempty,datetime=2006-01-02"`
	TreatmentTime      string     `json:"treatment_time" validate:"omitempty,clock"`
	Results            string     `json:"results" validate:"max=1000"`
	Findings           string     `json:"findings" validate:"max=1000"`
	Outcome            string     `json:"outcome" validate:"omitempty,oneof=pending successful partial unsuccessful ongoing completed"`
	PreProcedureNotes  string     `json:"pre_procedure_notes" validate:"max=1000"`
	PostProcedureNotes string     `json:"post_procedure_notes" validate:"max=1000"`
	Complications      string     `json:"complications" validate:"max=500"`
	DoctorID           *uuid.UUID `json:"doctor_id"`
	NurseID            *uuid.UUID `json:"nurse_id"`
}

// UpdateCommand patches a record; nil fields are left unchanged.
type UpdateCommand struct {
	TreatmentType      *string    `json:"treatment_type" validate:"omitempty,oneof=surgery radiotherapy chemotherapy targeted_therapy hormone_therapy immunotherapy intervention_therapy medication physical_therapy supportive_care diagnostic consultation procedure other"`
	TreatmentName      *string    `json:"treatment_name" validate:"omitempty,max=255"`
	Description        *string    `json:"description" validate:"omitempty,max=1000"`
	Notes              *string    `json:"notes" validate:"omitempty,max=1000"`
	Medications        *string    `json:"medications" validate:"omitempty,max=500"`
	Dosage             *string    `json:"dosage" validate:"omitempty,max=255"`
	TreatmentDate      *string    `json:"treatment_date" validate:"omitempty,datetime=2006-01-02"`
	TreatmentTime      *string    `json:"treatment_time" validate:"omitempty,clock"`
	Results            *string    `json:"results" validate:"omitempty,max=1000"`
	Findings           *string    `json:"findings" validate:"omitempty,max=1000"`
	Outcome            *string    `json:"outcome" validate:"omitempty,oneof=pending successful partial unsuccessful ongoing completed"`
	PreProcedureNotes  *string    `json:"pre_procedure_notes" validate:"omitempty,max=1000"`
	PostProcedureNotes *string    `json:"post_procedure_notes" validate:"omitempty,max=1000"`
	Complications      *string    `json:"complications" validate:"omitempty,max=500"`
	DoctorID           *uuid.UUID `json:"doctor_id"`
	NurseID            *uuid.UUID `json:"nurse_id"`
}

func (cmd UpdateCommand) apply(r *Record) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.TreatmentType, cmd.TreatmentType)
	set(&r.TreatmentName, cmd.TreatmentName)
	set(&r.Description, cmd.Description)
	set(&r.Notes, cmd.Notes)
	set(&r.Medications, cmd.Medications)
	set(&r.Dosage, cmd.Dosage)
	set(&r.TreatmentTime, cmd.TreatmentTime)
	set(&r.Results, cmd.Results)
	set(&r.Findings, cmd.Findings)
	set(&r.Outcome, cmd.Outcome)
	set(&r.PreProcedureNotes, cmd.PreProcedureNotes)
	set(&r.PostProcedureNotes, cmd.PostProcedureNotes)
	set(&r.Complications, cmd.Complications)
	if cmd.TreatmentDate != nil {
		if d, err := time.Parse("2006-01-02", *cmd.TreatmentDate); err == nil {
			r.TreatmentDate = d
		}
	}
	if cmd.DoctorID != nil {
		r.DoctorID = cmd.DoctorID
	}
	if cmd.NurseID != nil {
		r.NurseID = cmd.NurseID
	}
}
