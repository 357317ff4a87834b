package intake

import (
	"strings"
	"time"
)

// allergySentinel is the placeholder entry recorded when a patient has
// allergies of unknown kind.
const allergySentinel = "Unknown"

// Merge applies a validated extraction to the record and reports
// whether any record data changed. A nil payload leaves the record
// untouched, section pointer included. The completion scan runs
// whenever the extraction claims completeness, even when no data
// changed.
func Merge(rec *PatientRecord, result ExtractionResult) bool {
	if result.Payload == nil {
		return false
	}

	changed := false
	switch payload := result.Payload.(type) {
	case *BasicInfoPayload:
		changed = mergeBasicInfo(rec, payload)
	case *ItemListPayload:
		changed = mergeItems(rec, result.Section, payload.Items)
	}

	if result.IsComplete {
		markSectionComplete(rec, result.Section)
	}
	rec.LastUpdated = time.Now()
	return changed
}

// mergeBasicInfo overwrites scalars with any non-nil extracted value.
// Weight only ever comes from the validated kilogram value.
func mergeBasicInfo(rec *PatientRecord, p *BasicInfoPayload) bool {
	changed := false
	if p.Name != nil && *p.Name != rec.Name {
		rec.Name = *p.Name
		changed = true
	}
	if p.Age != nil && *p.Age != rec.Age {
		rec.Age = *p.Age
		changed = true
	}
	if p.Gender != nil && *p.Gender != rec.Gender {
		rec.Gender = *p.Gender
		changed = true
	}
	if p.Height != nil && *p.Height != rec.Height {
		rec.Height = *p.Height
		changed = true
	}
	if p.Weight != nil && *p.Weight != rec.Weight {
		rec.Weight = *p.Weight
		changed = true
	}
	return changed
}

func mergeItems(rec *PatientRecord, section Section, items []Item) bool {
	list := rec.sectionList(section)
	if list == nil {
		return false
	}

	changed := false
	for _, item := range items {
		entry := canonicalItem(section, item)
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if section == SectionAllergies && entry == allergySentinel && hasConcreteAllergy(*list) {
			continue
		}
		if containsString(*list, entry) {
			continue
		}
		*list = append(*list, entry)
		changed = true
	}
	return changed
}

// canonicalItem renders one extracted item as the display string used
// for exact-string deduplication: its identifying sub-fields joined
// with " - " in a fixed, section-specific order. Bare-string items pass
// through verbatim.
func canonicalItem(section Section, item Item) string {
	if strings.TrimSpace(item.Text) != "" {
		return item.Text
	}

	var parts []string
	switch section {
	case SectionMedications:
		parts = append(parts, orPlaceholder(item.Name, "Unknown medication"))
		if item.Dosage != "" {
			parts = append(parts, "Dosage: "+item.Dosage)
		}
		if item.Frequency != "" {
			parts = append(parts, "Frequency: "+item.Frequency)
		}
	case SectionAllergies:
		parts = append(parts, orPlaceholder(item.Name, "Unknown allergy"))
		if item.Severity != "" {
			parts = append(parts, "Severity: "+item.Severity)
		}
		if item.Reaction != "" {
			parts = append(parts, "Reaction: "+item.Reaction)
		}
	case SectionChronicConditions:
		parts = append(parts, orPlaceholder(item.Name, "Unknown condition"))
		if item.DiagnosisDate != "" {
			parts = append(parts, "Diagnosed: "+item.DiagnosisDate)
		}
		if item.Status != "" {
			parts = append(parts, "Status: "+item.Status)
		}
	case SectionSurgeries:
		parts = append(parts, orPlaceholder(item.Type, orPlaceholder(item.Name, "Unknown surgery")))
		if item.Date != "" {
			parts = append(parts, "Date: "+item.Date)
		}
		if item.Complications != "" {
			parts = append(parts, "Complications: "+item.Complications)
		}
	case SectionFamilyHistory:
		parts = append(parts, orPlaceholder(item.Relation, "Unknown relation"))
		if item.Condition != "" {
			parts = append(parts, "Condition: "+item.Condition)
		}
		if item.AgeOfOnset != "" {
			parts = append(parts, "Age of onset: "+item.AgeOfOnset)
		}
	default:
		return item.Text
	}
	return strings.Join(parts, " - ")
}

func hasConcreteAllergy(allergies []string) bool {
	for _, a := range allergies {
		if a != allergySentinel {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// markSectionComplete sets the section's flag and repoints the record
// at the first incomplete section in canonical order, or nil when the
// interview is finished. Flags are never reset here.
func markSectionComplete(rec *PatientRecord, section Section) {
	if rec.CompletionStatus == nil {
		rec.CompletionStatus = make(map[Section]bool, len(SectionOrder))
	}
	rec.CompletionStatus[section] = true
	for _, s := range SectionOrder {
		if !rec.CompletionStatus[s] {
			next := s
			rec.CurrentSection = &next
			return
		}
	}
	rec.CurrentSection = nil
}

// Clean removes exact-duplicate and blank entries from every list and
// collapses repeated allergy sentinels. It is idempotent and runs at
// the start of every turn to bound the effect of prior inconsistent
// state.
func Clean(rec *PatientRecord) {
	rec.Medications = cleanList(rec.Medications)
	rec.Allergies = cleanAllergies(rec.Allergies)
	rec.ChronicConditions = cleanList(rec.ChronicConditions)
	rec.Surgeries = cleanList(rec.Surgeries)
	rec.FamilyHistory = cleanList(rec.FamilyHistory)
}

func cleanList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// cleanAllergies dedups like cleanList but also drops sentinel entries
// once any earlier entry has been kept; a list holding only sentinels
// collapses to a single one.
func cleanAllergies(allergies []string) []string {
	allSentinel := len(allergies) > 0
	for _, a := range allergies {
		if a != allergySentinel {
			allSentinel = false
			break
		}
	}
	if allSentinel {
		return []string{allergySentinel}
	}

	seen := make(map[string]struct{}, len(allergies))
	out := make([]string, 0, len(allergies))
	for _, a := range allergies {
		if strings.TrimSpace(a) == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		if a == allergySentinel && len(seen) > 0 {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
