package types

// Difficulty is one of the six ordered tiers a game config may occupy.
type Difficulty string

const (
	DifficultyVeryEasy     Difficulty = "very_easy"
	DifficultyEasy         Difficulty = "easy"
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyExpert       Difficulty = "expert"
)

// DifficultyTiers is the ordered tier list, easiest first. Stepping clamps
// to this range.
var DifficultyTiers = []Difficulty{
	DifficultyVeryEasy,
	DifficultyEasy,
	DifficultyBeginner,
	DifficultyIntermediate,
	DifficultyAdvanced,
	DifficultyExpert,
}

// Step returns the tier delta positions away, clamped to the tier list.
// Unknown tiers step from Beginner.
func (d Difficulty) Step(delta int) Difficulty {
	idx := d.rank()
	idx += delta
	if idx < 0 {
		idx = 0
	}
	if idx >= len(DifficultyTiers) {
		idx = len(DifficultyTiers) - 1
	}
	return DifficultyTiers[idx]
}

// IsValid reports whether d is one of the six known tiers.
func (d Difficulty) IsValid() bool {
	for _, tier := range DifficultyTiers {
		if d == tier {
			return true
		}
	}
	return false
}

func (d Difficulty) rank() int {
	for i, tier := range DifficultyTiers {
		if d == tier {
			return i
		}
	}
	return 2 // beginner
}
