package admission

import (
	"time"

	"github.com/google/uuid"
)

// Filter narrows the admission index. Zero fields match everything.
// DoctorID and NurseID scope the index to a clinician's own patients.
// AdmittedFrom and AdmittedTo bound the admission date, both inclusive.
type Filter struct {
	Status       Status
	Type         Type
	PatientID    *uuid.UUID
	DoctorID     *uuid.UUID
	NurseID      *uuid.UUID
	AdmittedFrom *time.Time
	AdmittedTo   *time.Time
}

func (f Filter) matches(a *Admission) bool {
	if a.DeletedAt != nil {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.AdmissionType != f.Type {
		return false
	}
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.AdmittedFrom != nil && dateOf(a.AdmissionDate).Before(dateOf(*f.AdmittedFrom)) {
		return false
	}
	if f.AdmittedTo != nil && dateOf(a.AdmissionDate).After(dateOf(*f.AdmittedTo)) {
		return false
	}
	if f.DoctorID != nil && (a.DoctorID == nil || *a.DoctorID != *f.DoctorID) {
		return false
	}
	if f.NurseID != nil && (a.NurseID == nil || *a.NurseID != *f.NurseID) {
		return false
	}
	return true
}

// Statistics is the ward dashboard summary.
type Statistics struct {
	TotalAdmissions             int            `json:"total_admissions"`
	CurrentlyAdmitted           int            `json:"currently_admitted"`
	CurrentlyAdmittedInpatient  int            `json:"currently_admitted_inpatient"`
	CurrentlyAdmittedOutpatient int            `json:"currently_admitted_outpatient"`
	AdmittedToday               int            `json:"admitted_today"`
	DischargedThisMonth         int            `json:"discharged_this_month"`
	AdmissionsThisMonth         int            `json:"admissions_this_month"`
	ByStatus                    map[Status]int `json:"by_status"`
	ByType                      map[Type]int   `json:"by_type"`
}

// monthBounds returns the first day of now's month and of the next one.
func monthBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Tally computes Statistics over live admissions.
func Tally(admissions []*Admission, now time.Time) *Statistics {
	from, to := monthBounds(now)
	inMonth := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }

	s := &Statistics{ByStatus: map[Status]int{}, ByType: map[Type]int{}}
	for _, a := range admissions {
		if a.DeletedAt != nil {
			continue
		}
		s.TotalAdmissions++
		s.ByStatus[a.Status]++
		s.ByType[a.AdmissionType]++
		if a.Status == StatusAdmitted {
			s.CurrentlyAdmitted++
			if a.AdmissionType == TypeInpatient {
				s.CurrentlyAdmittedInpatient++
			} else {
				s.CurrentlyAdmittedOutpatient++
			}
		}
		if a.Status == StatusDischarged && a.DischargeDate != nil && inMonth(*a.DischargeDate) {
			s.DischargedThisMonth++
		}
		if inMonth(a.AdmissionDate) {
			s.AdmissionsThisMonth++
		}
		if dateOf(a.AdmissionDate).Equal(dateOf(now)) {
			s.AdmittedToday++
		}
	}
	return s
}
