package game

import (
	"math/rand/v2"
	"sort"

	"matching-game-service/models"
)

// SelectPairs samples the pairs dealt for one session of g.
//
// A pool larger than the level quota is sampled uniformly without
// replacement. A pool at or below the quota is used whole; it is never
// padded. An empty pool yields ErrNoContent.
func SelectPairs(g models.Game, pool []models.Pair, rng *rand.Rand) ([]models.Pair, error) {
	unique := dedupePairs(pool)
	if len(unique) == 0 {
		return nil, ErrNoContent
	}

	quota := QuotaForLevel(g.LevelNumber)
	if len(unique) <= quota {
		return unique, nil
	}

	picked := rng.Perm(len(unique))[:quota]
	sort.Ints(picked) // keep authoring order
	chosen := make([]models.Pair, 0, quota)
	for _, i := range picked {
		chosen = append(chosen, unique[i])
	}
	return chosen, nil
}

func dedupePairs(pool []models.Pair) []models.Pair {
	seen := make(map[string]struct{}, len(pool))
	out := make([]models.Pair, 0, len(pool))
	for _, p := range pool {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
