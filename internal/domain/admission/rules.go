package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeathRecord returns the patient's deceased admission, if any. Soft-deleted
// rows are ignored.
func DeathRecord(admissions []*Admission) *Admission {
	for _, a := range admissions {
		if a.DeletedAt == nil && a.Status == StatusDeceased {
			return a
		}
	}
	return nil
}

// ActiveInpatient returns the patient's admitted inpatient stay other than
// excluding. Pass uuid.Nil to consider every admission.
func ActiveInpatient(admissions []*Admission, excluding uuid.UUID) *Admission {
	for _, a := range admissions {
		if a.DeletedAt == nil && a.ID != excluding && a.ActiveInpatient() {
			return a
		}
	}
	return nil
}

// SiblingClosureRemark is appended to admissions force-closed by a death
// confirmed elsewhere.
func SiblingClosureRemark(deathAdmissionNumber string) string {
	return fmt.Sprintf("Automatically closed due to patient death confirmed in admission %s. "+
		"Patient died in admission %s, not in this admission.", deathAdmissionNumber, deathAdmissionNumber)
}

// CloseSiblings computes the force-closed state of every other admitted
// admission of the patient. Siblings are discharged with a death indicator,
// never marked deceased. The caller persists the results inside the same
// transaction as the death confirmation.
func CloseSiblings(admissions []*Admission, death *Admission, now time.Time, by Actor) []*Admission {
	closed := []*Admission{}
	for _, a := range admissions {
		if a.DeletedAt != nil || a.ID == death.ID || a.Status != StatusAdmitted {
			continue
		}
		next := a.Clone()
		next.Status = StatusDischarged
		next.DischargeType = DischargeTypeNormal
		next.DischargeStatus = DischargeStatusDead
		day := dateOf(now)
		next.DischargeDate = &day
		next.DischargeTime = now.Format(timeLayout)
		next.Remarks = appendRemark(a.Remarks, SiblingClosureRemark(death.AdmissionNumber))
		stamp(next, now, by)
		closed = append(closed, next)
	}
	return closed
}

func appendRemark(existing, remark string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return remark
	}
	return existing + "\n" + remark
}
