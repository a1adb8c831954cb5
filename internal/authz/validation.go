package authz

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vyrodovalexey/docguard/internal/clearance"
	"github.com/vyrodovalexey/docguard/internal/docstore"
)

// FieldError describes one invalid document attribute field.
type FieldError struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s (%q)", e.Field, e.Reason, e.Value)
}

// FieldErrors aggregates validation failures for a single request.
type FieldErrors []*FieldError

// Error implements the error interface.
func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Error())
	}
	return strings.Join(parts, "; ")
}

// DefaultReleasabilityMarkers is the default releasable-to vocabulary.
func DefaultReleasabilityMarkers() []string {
	return []string{"NATO", "EU", "FVEY", "PARTNERX"}
}

// DefaultCOITags is the default community-of-interest vocabulary.
func DefaultCOITags() []string {
	return []string{"OpAlpha", "OpBravo", "OpGamma", "MissionX", "MissionZ"}
}

// DefaultLACVCodes is the default legacy access control vocabulary.
func DefaultLACVCodes() []string {
	return []string{"LACV001", "LACV002", "LACV003", "LACV004"}
}

// Vocabulary holds the recognized values for document marking fields.
// Clearance labels are owned by the clearance hierarchy; the vocabulary
// covers the remaining fields. Safe for concurrent use; Replace swaps
// the tables on configuration reload.
type Vocabulary struct {
	mu           sync.RWMutex
	releasableTo map[string]struct{}
	coiTags      map[string]struct{}
	lacvCodes    map[string]struct{}
}

// NewVocabulary builds a vocabulary from the given value lists. Empty
// lists fall back to the defaults.
func NewVocabulary(releasableTo, coiTags, lacvCodes []string) *Vocabulary {
	v := &Vocabulary{}
	v.Replace(releasableTo, coiTags, lacvCodes)
	return v
}

// Replace atomically swaps the vocabulary tables. Empty lists fall back
// to the defaults.
func (v *Vocabulary) Replace(releasableTo, coiTags, lacvCodes []string) {
	if len(releasableTo) == 0 {
		releasableTo = DefaultReleasabilityMarkers()
	}
	if len(coiTags) == 0 {
		coiTags = DefaultCOITags()
	}
	if len(lacvCodes) == 0 {
		lacvCodes = DefaultLACVCodes()
	}

	v.mu.Lock()
	v.releasableTo = toSet(releasableTo)
	v.coiTags = toSet(coiTags)
	v.lacvCodes = toSet(lacvCodes)
	v.mu.Unlock()
}

// ReleasabilityMarkers returns the recognized markers sorted.
func (v *Vocabulary) ReleasabilityMarkers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return sortedKeys(v.releasableTo)
}

// ValidateAttributes checks every marking field on a document against the
// vocabulary and the clearance hierarchy. All failing fields are reported
// together so a caller can fix the request in one round trip.
func (v *Vocabulary) ValidateAttributes(attrs *docstore.DocumentAttributes, hierarchy *clearance.Hierarchy) FieldErrors {
	var errs FieldErrors

	if attrs == nil {
		return FieldErrors{{Field: "attributes", Reason: "required"}}
	}

	if attrs.Clearance == "" {
		errs = append(errs, &FieldError{Field: "clearance", Reason: "required"})
	} else if !hierarchy.Recognized(attrs.Clearance) {
		errs = append(errs, &FieldError{
			Field:  "clearance",
			Value:  attrs.Clearance,
			Reason: "unrecognized clearance label",
		})
	} else if len(attrs.ReleasableTo) == 0 {
		// Any document above the unclassified floor must name who it is
		// releasable to.
		if ordinal, err := hierarchy.Ordinal(attrs.Clearance); err == nil && ordinal > 0 {
			errs = append(errs, &FieldError{
				Field:  "releasableTo",
				Reason: "required for classified documents",
			})
		}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, marker := range attrs.ReleasableTo {
		if _, ok := v.releasableTo[marker]; !ok {
			errs = append(errs, &FieldError{
				Field:  "releasableTo",
				Value:  marker,
				Reason: "unrecognized releasability marker",
			})
		}
	}
	for _, tag := range attrs.COITags {
		if _, ok := v.coiTags[tag]; !ok {
			errs = append(errs, &FieldError{
				Field:  "coiTags",
				Value:  tag,
				Reason: "unrecognized COI tag",
			})
		}
	}
	if attrs.LACVCode != "" {
		if _, ok := v.lacvCodes[attrs.LACVCode]; !ok {
			errs = append(errs, &FieldError{
				Field:  "lacvCode",
				Value:  attrs.LACVCode,
				Reason: "unrecognized LACV code",
			})
		}
	}

	return errs
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
