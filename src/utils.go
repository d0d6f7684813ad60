package qamatch

import (
	"fmt"
	"math/rand/v2"
)

// errorf creates a formatted error
func errorf(format string, args ...any) error {
	return fmt.Errorf("qamatch: "+format, args...)
}

// shufflePairs shuffles question/answer pairs in-place, keeping them aligned
func shufflePairs(questions, answers [][]int, rng *rand.Rand) {
	rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
		answers[i], answers[j] = answers[j], answers[i]
	})
}

// seqLength counts the nonzero ids of a row. Id 0 is padding.
func seqLength(row []int) int {
	n := 0
	for _, id := range row {
		if id != 0 {
			n++
		}
	}
	return n
}
