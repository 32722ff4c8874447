package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient holds permanent demographics. Anything tied to one stay lives
// on the admission.
type Patient struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	NationalID           *string    `db:"national_id" json:"national_id,omitempty"`
	Phone                string     `db:"phone" json:"phone,omitempty"`
	Address              string     `db:"address" json:"address,omitempty"`
	Gender               string     `db:"gender" json:"gender,omitempty"`
	DateOfBirth          *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	BloodType            string     `db:"blood_type" json:"blood_type,omitempty"`
	KnownAllergies       string     `db:"known_allergies" json:"known_allergies,omitempty"`
	ChronicConditions    string     `db:"chronic_conditions" json:"chronic_conditions,omitempty"`
	NearestRelativeName  string     `db:"nearest_relative_name" json:"nearest_relative_name,omitempty"`
	NearestRelativePhone string     `db:"nearest_relative_phone" json:"nearest_relative_phone,omitempty"`
	VersionID            int        `db:"version_id" json:"version_id"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt            *time.Time `db:"deleted_at" json:"-"`
}

func (p *Patient) IsDeleted() bool { return p.DeletedAt != nil }

func (p *Patient) Clone() *Patient {
	if p == nil {
		return nil
	}
	c := *p
	if p.NationalID != nil {
		v := *p.NationalID
		c.NationalID = &v
	}
	if p.DateOfBirth != nil {
		v := *p.DateOfBirth
		c.DateOfBirth = &v
	}
	if p.DeletedAt != nil {
		v := *p.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}

// CreateCommand registers a patient.
type CreateCommand struct {
	Name                 string `json:"name" validate:"required,max=255"`
	NationalID           string `json:"national_id" validate:"max=64"`
	Phone                string `json:"phone" validate:"max=32"`
	Address              string `json:"address" validate:"max=1000"`
	Gender               string `json:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth          string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	BloodType            string `json:"blood_type" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	KnownAllergies       string `json:"known_allergies" validate:"max=1000"`
	ChronicConditions    string `json:"chronic_conditions" validate:"max=1000"`
	NearestRelativeName  string `json:"nearest_relative_name" validate:"max=255"`
	NearestRelativePhone string `json:"nearest_relative_phone" validate:"max=32"`
}

// UpdateCommand patches demographics. Nil fields are left untouched.
type UpdateCommand struct {
	Name                 *string `json:"name" validate:"omitempty,min=1,max=255"`
	NationalID           *string `json:"national_id" validate:"omitempty,max=64"`
	Phone                *string `json:"phone" validate:"omitempty,max=32"`
	Address              *string `json:"address" validate:"omitempty,max=1000"`
	Gender               *string `json:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth          *string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	BloodType            *string `json:"blood_type" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	KnownAllergies       *string `json:"known_allergies" validate:"omitempty,max=1000"`
	ChronicConditions    *string `json:"chronic_conditions" validate:"omitempty,max=1000"`
	NearestRelativeName  *string `json:"nearest_relative_name" validate:"omitempty,max=255"`
	NearestRelativePhone *string `json:"nearest_relative_phone" validate:"omitempty,max=32"`
}

func (c *UpdateCommand) apply(p *Patient) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Name, c.Name)
	set(&p.Phone, c.Phone)
	set(&p.Address, c.Address)
	set(&p.Gender, c.Gender)
	set(&p.BloodType, c.BloodType)
	set(&p.KnownAllergies, c.KnownAllergies)
	set(&p.ChronicConditions, c.ChronicConditions)
	set(&p.NearestRelativeName, c.NearestRelativeName)
	set(&p.NearestRelativePhone, c.NearestRelativePhone)
	if c.NationalID != nil {
		p.NationalID = optional(*c.NationalID)
	}
	if c.DateOfBirth != nil {
		p.DateOfBirth = parseDate(*c.DateOfBirth)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseDate returns nil for empty or malformed input; callers validate first.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &d
}
