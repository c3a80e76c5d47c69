package game

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-game-service/models"
)

func makePool(n int) []models.Pair {
	pool := make([]models.Pair, n)
	for i := range pool {
		pool[i] = models.Pair{
			ID:           fmt.Sprintf("p%d", i),
			LeftContent:  fmt.Sprintf("كلمة %d", i),
			RightContent: fmt.Sprintf("معنى %d", i),
			OrderIndex:   i,
		}
	}
	return pool
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestQuotaForLevel(t *testing.T) {
	tests := []struct {
		level int
		quota int
	}{
		{1, 4},
		{2, 5},
		{3, 6},
		{7, 6},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("level %d", tt.level), func(t *testing.T) {
			assert.Equal(t, tt.quota, QuotaForLevel(tt.level))
			assert.Equal(t, tt.quota*10, MaxScoreForLevel(tt.level))
		})
	}
}

func TestSelectPairs(t *testing.T) {
	tests := []struct {
		name     string
		level    int
		poolSize int
		want     int
	}{
		{"level 1 larger pool", 1, 6, 4},
		{"level 2 larger pool", 2, 12, 5},
		{"level 3 larger pool", 3, 20, 6},
		{"pool equals quota", 2, 5, 5},
		{"pool below quota", 3, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := makePool(tt.poolSize)
			inPool := map[string]bool{}
			for _, p := range pool {
				inPool[p.ID] = true
			}

			for seed := uint64(0); seed < 50; seed++ {
				chosen, err := SelectPairs(models.Game{LevelNumber: tt.level}, pool, seeded(seed))
				require.NoError(t, err)
				require.Len(t, chosen, tt.want)

				seen := map[string]bool{}
				for _, p := range chosen {
					assert.True(t, inPool[p.ID], "pair %s not from pool", p.ID)
					assert.False(t, seen[p.ID], "pair %s chosen twice", p.ID)
					seen[p.ID] = true
				}
			}
		})
	}
}

func TestSelectPairsEmptyPool(t *testing.T) {
	_, err := SelectPairs(models.Game{LevelNumber: 1}, nil, seeded(1))
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestSelectPairsIgnoresDuplicateRows(t *testing.T) {
	pool := makePool(2)
	pool = append(pool, pool[0])

	chosen, err := SelectPairs(models.Game{LevelNumber: 1}, pool, seeded(3))
	require.NoError(t, err)
	assert.Len(t, chosen, 2)
}

func TestSelectPairsIsDeterministicForSeed(t *testing.T) {
	pool := makePool(10)
	g := models.Game{LevelNumber: 3}

	a, err := SelectPairs(g, pool, seeded(42))
	require.NoError(t, err)
	b, err := SelectPairs(g, pool, seeded(42))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSelectPairsCoversWholePool(t *testing.T) {
	pool := makePool(6)
	hits := map[string]int{}
	rng := seeded(7)
	for i := 0; i < 600; i++ {
		chosen, err := SelectPairs(models.Game{LevelNumber: 1}, pool, rng)
		require.NoError(t, err)
		for _, p := range chosen {
			hits[p.ID]++
		}
	}
	// every pair is expected 400 times out of 600 draws of 4 from 6
	for _, p := range pool {
		assert.InDelta(t, 400, hits[p.ID], 80, "pair %s", p.ID)
	}
}
