package domain

// Rank orders match statuses: none < partial < perfect.
func Rank(s MatchStatus) int {
	switch s {
	case MatchPerfect:
		return 2
	case MatchPartial:
		return 1
	default:
		return 0
	}
}

// IsAcceptable reports whether candidate may replace existing. With no
// stored match anything is accepted; otherwise neither side may rank lower
// than what is stored. Equal matches are accepted.
func IsAcceptable(existing *MatchPair, candidate MatchPair) bool {
	if existing == nil {
		return true
	}
	return Rank(candidate.RuntimeMatch) >= Rank(existing.RuntimeMatch) &&
		Rank(candidate.CreationMatch) >= Rank(existing.CreationMatch)
}
