package admission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const maxSequence = 999999

var numberPattern = regexp.MustCompile(`^ADM-(\d{4})-(\d{6})$`)

// FormatNumber renders an admission number as ADM-YYYY-NNNNNN.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("ADM-%04d-%06d", year, seq)
}

// ParseNumber splits an admission number into year and sequence.
func ParseNumber(s string) (year, seq int, err error) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed admission number %q", s)
	}
	year, _ = strconv.Atoi(m[1])
	seq, _ = strconv.Atoi(m[2])
	return year, seq, nil
}

// ErrDuplicateNumber is returned by Repository.Insert when the admission
// number is already taken.
var ErrDuplicateNumber = errors.New("admission number already in use")

// ErrSequenceExhausted means the year has used every six-digit number.
var ErrSequenceExhausted = errors.New("admission number sequence exhausted for year")

type sequenceReserver interface {
	ReserveNextAdmissionNumber(ctx context.Context, year int) (int, error)
}

// Generator hands out year-scoped admission numbers. Reservation happens in
// the caller's transaction so the number is released if the admit rolls back.
type Generator struct {
	seq sequenceReserver
}

func NewGenerator(seq sequenceReserver) *Generator {
	return &Generator{seq: seq}
}

// Next reserves the next number for year.
func (g *Generator) Next(ctx context.Context, year int) (string, error) {
	n, err := g.seq.ReserveNextAdmissionNumber(ctx, year)
	if err != nil {
		return "", fmt.Errorf("reserve admission number: %w", err)
	}
	if n > maxSequence {
		return "", ErrSequenceExhausted
	}
	return FormatNumber(year, n), nil
}
