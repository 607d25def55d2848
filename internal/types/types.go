package types

import (
	"errors"
	"strings"
)

// Validation sentinels. The transport layer maps these to HTTP statuses so
// the scoring core never needs to know about HTTP.
var (
	ErrSharedCMOutOfRange    = errors.New("shared_cm must be greater than 0 and at most 4000")
	ErrInvalidSex            = errors.New("sex must be M or F")
	ErrInvalidEndogamyLevel  = errors.New("endogamy_level must be one of none, light, moderate, high, very_high")
	ErrNegativeSegmentCount  = errors.New("segment_count must be non-negative")
	ErrNegativeSegmentLength = errors.New("largest_segment_cm must be non-negative")
	ErrNegativeAge           = errors.New("ages must be non-negative")
)

// MaxSharedCM is the upper bound of the accepted shared-cM domain.
const MaxSharedCM = 4000.0

// EndogamyLevel describes the degree of historical intermarriage in the
// tested family, from none to very_high.
type EndogamyLevel string

const (
	EndogamyNone     EndogamyLevel = "none"
	EndogamyLight    EndogamyLevel = "light"
	EndogamyModerate EndogamyLevel = "moderate"
	EndogamyHigh     EndogamyLevel = "high"
	EndogamyVeryHigh EndogamyLevel = "very_high"
)

// Levels returns all endogamy levels in increasing order of severity.
func Levels() []EndogamyLevel {
	return []EndogamyLevel{EndogamyNone, EndogamyLight, EndogamyModerate, EndogamyHigh, EndogamyVeryHigh}
}

// Valid reports whether the level is one of the known values. The empty
// string is valid and means the caller did not state a level.
func (l EndogamyLevel) Valid() bool {
	switch l {
	case "", EndogamyNone, EndogamyLight, EndogamyModerate, EndogamyHigh, EndogamyVeryHigh:
		return true
	}
	return false
}

// Sex is the reported sex of the tested person.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

func (s Sex) Valid() bool {
	switch s {
	case "", SexMale, SexFemale:
		return true
	}
	return false
}

// AnalysisRequest is one inbound scoring request. SharedCM is required;
// everything else is optional evidence that sharpens the ranking. Pointer
// fields distinguish "absent" from zero.
type AnalysisRequest struct {
	SharedCM         float64       `json:"shared_cm"`
	Generation       string        `json:"generation,omitempty"`
	Sex              Sex           `json:"sex,omitempty"`
	XInheritance     *bool         `json:"x_inheritance,omitempty"`
	SegmentCount     *int          `json:"segment_count,omitempty"`
	LargestSegmentCM *float64      `json:"largest_segment_cm,omitempty"`
	Person1Age       *int          `json:"person1_age,omitempty"`
	Person2Age       *int          `json:"person2_age,omitempty"`
	EndogamyLevel    EndogamyLevel `json:"endogamy_level,omitempty"`
}

// Validate checks the request against its domain. Out-of-domain values are
// rejected, never clamped. The first violation found is returned.
func (r AnalysisRequest) Validate() error {
	if r.SharedCM <= 0 || r.SharedCM > MaxSharedCM {
		return ErrSharedCMOutOfRange
	}
	if !r.Sex.Valid() {
		return ErrInvalidSex
	}
	if !r.EndogamyLevel.Valid() {
		return ErrInvalidEndogamyLevel
	}
	if r.SegmentCount != nil && *r.SegmentCount < 0 {
		return ErrNegativeSegmentCount
	}
	if r.LargestSegmentCM != nil && *r.LargestSegmentCM < 0 {
		return ErrNegativeSegmentLength
	}
	if (r.Person1Age != nil && *r.Person1Age < 0) || (r.Person2Age != nil && *r.Person2Age < 0) {
		return ErrNegativeAge
	}
	return nil
}

// GenerationLabel returns the trimmed generation label, or "" when the
// caller did not state one.
func (r AnalysisRequest) GenerationLabel() string {
	return strings.TrimSpace(r.Generation)
}

// IsValidationError reports whether err is one of the request validation
// sentinels.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrSharedCMOutOfRange),
		errors.Is(err, ErrInvalidSex),
		errors.Is(err, ErrInvalidEndogamyLevel),
		errors.Is(err, ErrNegativeSegmentCount),
		errors.Is(err, ErrNegativeSegmentLength),
		errors.Is(err, ErrNegativeAge):
		return true
	}
	return false
}
