package intake

// Shape describes a section's extraction contract: which item or scalar
// fields the generator is asked for, and whether the payload is an item
// list.
type Shape struct {
	Required   []string
	Optional   []string
	ListShaped bool
}

var sectionShapes = map[Section]Shape{
	SectionBasicInfo: {
		Required: []string{"name", "age"},
		Optional: []string{"gender", "height", "weight"},
	},
	SectionMedications: {
		Optional:   []string{"name", "dosage", "frequency"},
		ListShaped: true,
	},
	SectionAllergies: {
		Optional:   []string{"type", "name", "severity", "reaction"},
		ListShaped: true,
	},
	SectionChronicConditions: {
		Optional:   []string{"name", "diagnosis_date", "status", "treatments"},
		ListShaped: true,
	},
	SectionSurgeries: {
		Optional:   []string{"type", "date", "complications"},
		ListShaped: true,
	},
	SectionFamilyHistory: {
		Optional:   []string{"relation", "condition", "age_of_onset"},
		ListShaped: true,
	},
}

// shapeOf returns the section's contract shape. Unknown section names
// fall back to a generic list shape with no named fields.
func shapeOf(section Section) Shape {
	if shape, ok := sectionShapes[section]; ok {
		return shape
	}
	return Shape{ListShaped: true}
}

// promptFor builds the system and user messages for an extraction call.
func promptFor(section Section, message, contextText string) (system, user string) {
	return extractionSystem, extractionUserPrompt(section, message, contextText)
}
