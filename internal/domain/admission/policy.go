package admission

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/ehr/admissions/internal/platform/auth"
)

// FieldPolicy limits which update fields a role may submit. Roles without
// an entry are unrestricted. A caller holding several roles gets the union.
type FieldPolicy map[string][]string

// DefaultFieldPolicy restricts doctors to clinical documentation. Status is
// let through so the guard can reject it with a precise reason.
func DefaultFieldPolicy() FieldPolicy {
	return FieldPolicy{
		auth.RoleDoctor: {
			"initial_diagnosis", "chief_complaint", "vital_signs", "remarks",
			"discharge_diagnosis", "clinician_summary", "discharge_instructions",
			"follow_up_instructions", "follow_up_date", "status",
		},
	}
}

func (p FieldPolicy) allowed(roles []string) (map[string]bool, bool) {
	set := map[string]bool{}
	for _, r := range roles {
		fields, restricted := p[r]
		if !restricted {
			return nil, false
		}
		for _, f := range fields {
			set[f] = true
		}
	}
	return set, true
}

// Strip drops the keys of a JSON object body that roles may not submit and
// decodes the rest into an UpdateCommand. Unknown keys are an error.
func (p FieldPolicy) Strip(roles []string, body []byte) (UpdateCommand, []string, error) {
	var cmd UpdateCommand

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return cmd, nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}

	var stripped []string
	if allowed, restricted := p.allowed(roles); restricted {
		for k := range raw {
			if !allowed[k] {
				stripped = append(stripped, k)
				delete(raw, k)
			}
		}
		sort.Strings(stripped)
	}

	kept, err := json.Marshal(raw)
	if err != nil {
		return cmd, nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(kept))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		return cmd, stripped, fmt.Errorf("invalid update body: %w", err)
	}
	return cmd, stripped, nil
}
