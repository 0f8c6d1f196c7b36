package engine

// =============================================================================
// CARRIER FEED HELPERS
// =============================================================================

// ClassifyCarrierCycle reads the carrier's cycle text. "CY ANUAL" marks a
// policy new in the current cycle, "CY SUBSECUENTE" a subsequent one. known
// is false when the text carries neither marker.
func ClassifyCarrierCycle(text string) (isNew bool, known bool) {
	switch {
	case containsFold(text, "SUBSECUENTE"), containsFold(text, "SUBSEQUENT"):
		return false, true
	case containsFold(text, "ANUAL"), containsFold(text, "ANNUAL"):
		return true, true
	default:
		return false, false
	}
}

// IsNewMedicalInsured: a paid Major-Medical policy whose insured carries no
// recognized seniority and whose seniority date is the policy start.
func IsNewMedicalInsured(paid, seniorityRecognized bool, seniority, effective Date) bool {
	if !paid || seniorityRecognized || seniority.IsZero() || effective.IsZero() {
		return false
	}
	return seniority.Equal(effective)
}

// YearBoundaryAlert flags payments posted January 2-5, which the carrier may
// count in the previous production year.
func YearBoundaryAlert(d Date) bool {
	if d.IsZero() {
		return false
	}
	return YearBoundaryWindow(d.Year()).Contains(d)
}
