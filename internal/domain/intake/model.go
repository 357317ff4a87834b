package intake

import (
	"time"
)

// Section is one topic of the fixed interview sequence.
type Section string

const (
	SectionBasicInfo         Section = "basic_info"
	SectionMedications       Section = "medications"
	SectionAllergies         Section = "allergies"
	SectionChronicConditions Section = "chronic_conditions"
	SectionSurgeries         Section = "surgeries"
	SectionFamilyHistory     Section = "family_history"
)

// SectionOrder is the canonical interview sequence. Section advance and
// schema fallback both scan it in this order.
var SectionOrder = []Section{
	SectionBasicInfo,
	SectionMedications,
	SectionAllergies,
	SectionChronicConditions,
	SectionSurgeries,
	SectionFamilyHistory,
}

// Known reports whether s is one of the six interview sections.
func (s Section) Known() bool {
	for _, known := range SectionOrder {
		if s == known {
			return true
		}
	}
	return false
}

// PatientRecord is the durable intake record for one patient. Scalar
// fields use their zero value for "not collected yet"; list fields are
// append-only canonical strings. CurrentSection is nil once every
// completion flag is true.
type PatientRecord struct {
	PatientID         string           `json:"patient_id"`
	Name              string           `json:"name,omitempty"`
	Age               int              `json:"age,omitempty"`
	Gender            string           `json:"gender,omitempty"`
	Height            string           `json:"height,omitempty"`
	Weight            float64          `json:"weight,omitempty"`
	Medications       []string         `json:"medications"`
	Allergies         []string         `json:"allergies"`
	ChronicConditions []string         `json:"chronic_conditions"`
	Surgeries         []string         `json:"surgeries"`
	FamilyHistory     []string         `json:"family_history"`
	LastUpdated       time.Time        `json:"last_updated"`
	CurrentSection    *Section         `json:"current_section"`
	CompletionStatus  map[Section]bool `json:"completion_status"`
}

// NewPatientRecord builds an empty record positioned at the first
// section with every completion flag false.
func NewPatientRecord(patientID string) *PatientRecord {
	first := SectionOrder[0]
	status := make(map[Section]bool, len(SectionOrder))
	for _, s := range SectionOrder {
		status[s] = false
	}
	return &PatientRecord{
		PatientID:         patientID,
		Medications:       []string{},
		Allergies:         []string{},
		ChronicConditions: []string{},
		Surgeries:         []string{},
		FamilyHistory:     []string{},
		LastUpdated:       time.Now(),
		CurrentSection:    &first,
		CompletionStatus:  status,
	}
}

// Complete reports whether every section's completion flag is set.
func (r *PatientRecord) Complete() bool {
	for _, s := range SectionOrder {
		if !r.CompletionStatus[s] {
			return false
		}
	}
	return true
}

// CompletionCopy returns a copy of the completion map safe to hand out
// in responses.
func (r *PatientRecord) CompletionCopy() map[Section]bool {
	out := make(map[Section]bool, len(r.CompletionStatus))
	for s, done := range r.CompletionStatus {
		out[s] = done
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *PatientRecord) Clone() *PatientRecord {
	out := *r
	out.Medications = append([]string{}, r.Medications...)
	out.Allergies = append([]string{}, r.Allergies...)
	out.ChronicConditions = append([]string{}, r.ChronicConditions...)
	out.Surgeries = append([]string{}, r.Surgeries...)
	out.FamilyHistory = append([]string{}, r.FamilyHistory...)
	out.CompletionStatus = r.CompletionCopy()
	if r.CurrentSection != nil {
		s := *r.CurrentSection
		out.CurrentSection = &s
	}
	return &out
}

// sectionList returns the record list backing a list-shaped section, or
// nil for basic_info and unknown sections.
func (r *PatientRecord) sectionList(s Section) *[]string {
	switch s {
	case SectionMedications:
		return &r.Medications
	case SectionAllergies:
		return &r.Allergies
	case SectionChronicConditions:
		return &r.ChronicConditions
	case SectionSurgeries:
		return &r.Surgeries
	case SectionFamilyHistory:
		return &r.FamilyHistory
	}
	return nil
}

// Payload is the closed variant of extracted content: a basic-info
// scalar bag or a section-shaped item list. A nil Payload means the
// extraction produced nothing mergeable.
type Payload interface {
	isPayload()
}

// BasicInfoPayload carries the five basic-info scalars as extracted.
// Weight holds the validated kilogram value; RawWeight preserves the
// generator's original text for unit conversion.
type BasicInfoPayload struct {
	Name      *string  `json:"name"`
	Age       *int     `json:"age"`
	Gender    *string  `json:"gender"`
	Height    *string  `json:"height"`
	Weight    *float64 `json:"weight"`
	RawWeight *string  `json:"-"`
}

func (*BasicInfoPayload) isPayload() {}

// Item is one extracted entry for a list-shaped section. Only the
// fields belonging to the section's shape are populated; Text carries
// bare-string items verbatim.
type Item struct {
	Text          string `json:"text,omitempty"`
	Name          string `json:"name,omitempty"`
	Type          string `json:"type,omitempty"`
	Dosage        string `json:"dosage,omitempty"`
	Frequency     string `json:"frequency,omitempty"`
	Severity      string `json:"severity,omitempty"`
	Reaction      string `json:"reaction,omitempty"`
	DiagnosisDate string `json:"diagnosis_date,omitempty"`
	Status        string `json:"status,omitempty"`
	Treatments    string `json:"treatments,omitempty"`
	Date          string `json:"date,omitempty"`
	Complications string `json:"complications,omitempty"`
	Relation      string `json:"relation,omitempty"`
	Condition     string `json:"condition,omitempty"`
	AgeOfOnset    string `json:"age_of_onset,omitempty"`
}

// ItemListPayload carries extracted items for a list-shaped section.
// Items is never nil after normalization.
type ItemListPayload struct {
	Items []Item `json:"items"`
}

func (*ItemListPayload) isPayload() {}

// ExtractionResult is the outcome of one extraction turn. It is built
// fresh per turn and never persisted; only its effect on the record
// survives.
type ExtractionResult struct {
	Section              Section `json:"section"`
	Payload              Payload `json:"extracted"`
	IsComplete           bool    `json:"is_complete"`
	NeedsClarification   bool    `json:"needs_clarification"`
	ClarificationMessage string  `json:"clarification_message,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// ChatMessage is one inbound patient turn.
type ChatMessage struct {
	Message        string `json:"message"`
	PatientID      string `json:"patient_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply to one turn.
type ChatResponse struct {
	Response         string           `json:"response"`
	NextQuestion     *string          `json:"next_question"`
	ConversationID   string           `json:"conversation_id"`
	Speaker          string           `json:"speaker"`
	DataUpdated      bool             `json:"data_updated"`
	CompletionStatus map[Section]bool `json:"completion_status"`
	Error            string           `json:"error,omitempty"`
}
