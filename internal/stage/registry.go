// Package stage defines the fixed, ordered pipeline stages a packet moves
// through. The sequence is known at compile time and never user-definable.
package stage

// Stage is one named step in the processing pipeline.
type Stage struct {
	Index int
	Name  string
}

var stages = []Stage{
	{Index: 0, Name: "Packet Intake"},
	{Index: 1, Name: "OCR & Digitization"},
	{Index: 2, Name: "Manual Correction"},
	{Index: 3, Name: "Eligibility Check (HETS)"},
	{Index: 4, Name: "Provider NPI Check (PECOS)"},
	{Index: 5, Name: "Medical Review Intake"},
	{Index: 6, Name: "Medical Review"},
	{Index: 7, Name: "Letter Generation"},
	{Index: 8, Name: "Delivery (WestFax/Mailroom)"},
}

// Count returns the number of pipeline stages.
func Count() int {
	return len(stages)
}

// Last returns the index of the terminal stage.
func Last() int {
	return len(stages) - 1
}

// All returns the ordered list of stages.
func All() []Stage {
	cp := make([]Stage, len(stages))
	copy(cp, stages)
	return cp
}

// Valid reports whether index identifies a known stage.
func Valid(index int) bool {
	return index >= 0 && index < len(stages)
}

// Name returns the display name for a stage index, or an empty string when
// the index is out of range.
func Name(index int) string {
	if !Valid(index) {
		return ""
	}
	return stages[index].Name
}

// ByName returns the stage with the given display name.
func ByName(name string) (Stage, bool) {
	for _, s := range stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}
