package admission

const (
	EventAdmissionCreated      = "admission.created"
	EventPatientDischarged     = "admission.discharged"
	EventPatientDeathConfirmed = "admission.death_confirmed"
	EventConvertedToInpatient  = "admission.converted_to_inpatient"
	EventAdmissionTransferred  = "admission.transferred"
	EventAdmissionUpdated      = "admission.updated"
)

type AdmissionCreated struct {
	Admission *Admission `json:"admission"`
}

type PatientDischarged struct {
	Admission *Admission `json:"admission"`
}

// PatientDeathConfirmed names every sibling the confirmation force-closed.
type PatientDeathConfirmed struct {
	Admission      *Admission `json:"admission"`
	ClosedSiblings []*Summary `json:"closed_siblings"`
}

type AdmissionConvertedToInpatient struct {
	Admission *Admission `json:"admission"`
	Ward      string     `json:"ward"`
	BedNumber string     `json:"bed_number"`
}

type AdmissionTransferred struct {
	Admission   *Admission `json:"admission"`
	Destination string     `json:"destination"`
}

type AdmissionUpdated struct {
	Admission *Admission `json:"admission"`
	Changed   []string   `json:"changed"`
}
