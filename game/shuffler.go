package game

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"matching-game-service/models"
)

// ShufflePairs deals chosen into a left and a right column.
// Each column is an independent permutation, so left[i] and right[i]
// share a pair only by chance. Item ids are fresh and opaque.
func ShufflePairs(chosen []models.Pair, rng *rand.Rand) (left, right []models.BoardItem) {
	n := len(chosen)
	left = make([]models.BoardItem, n)
	right = make([]models.BoardItem, n)

	for i, j := range rng.Perm(n) {
		p := chosen[j]
		left[i] = models.BoardItem{ID: uuid.NewString(), PairID: p.ID, Content: p.LeftContent}
	}
	for i, j := range rng.Perm(n) {
		p := chosen[j]
		right[i] = models.BoardItem{ID: uuid.NewString(), PairID: p.ID, Content: p.RightContent}
	}
	return left, right
}
