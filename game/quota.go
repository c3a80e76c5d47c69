// Package game holds the pure pieces of the matching engine: quota tiers,
// pair selection, column shuffling, attempt validation and the countdown.
package game

import "matching-game-service/models"

// PointsPerMatch is the score awarded for each correct pair.
const PointsPerMatch = 10

// QuotaForLevel returns how many pairs a session deals at the given level.
func QuotaForLevel(level int) int {
	switch {
	case level <= 1:
		return 4
	case level == 2:
		return 5
	default:
		return 6
	}
}

// MaxScoreForLevel is the score of a perfect session at the given level.
func MaxScoreForLevel(level int) int {
	return QuotaForLevel(level) * PointsPerMatch
}

// Counters are the three running numbers of a session.
type Counters struct {
	Score        int `json:"score"`
	Mistakes     int `json:"mistakes_count"`
	PairsMatched int `json:"pairs_matched"`
}

// Apply returns the counters after one attempt.
func (c Counters) Apply(correct bool) Counters {
	if correct {
		c.PairsMatched++
		c.Score = c.PairsMatched * PointsPerMatch
		return c
	}
	c.Mistakes++
	return c
}

// CountersOf reads the counters stored on a session row.
func CountersOf(s *models.MatchSession) Counters {
	return Counters{Score: s.Score, Mistakes: s.MistakesCount, PairsMatched: s.PairsMatched}
}

// IsTerminal reports whether a session in status can no longer change.
func IsTerminal(status models.SessionStatus) bool {
	return status == models.SessionCompleted || status == models.SessionAbandoned
}
