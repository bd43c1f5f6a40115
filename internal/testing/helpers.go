// Package testing holds helpers shared by the tests of other packages.
package testing

import (
	"math/rand"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet
func RandString() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// Reverse returns a reversed copy of s
func Reverse[T any](s []T) []T {
	reversed := make([]T, len(s))
	for i, v := range s {
		reversed[len(s)-1-i] = v
	}
	return reversed
}

// Pairs couples first with each of others e.g. 1, [2, 3] -> [[1,2], [1,3]]
func Pairs(first int64, others []int64) [][2]int64 {
	pairs := make([][2]int64, 0, len(others))
	for _, other := range others {
		pairs = append(pairs, [2]int64{first, other})
	}
	return pairs
}
