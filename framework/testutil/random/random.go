// Package random generates random identifiers for docker resources.
package random

import "math/rand/v2"

const lowerCaseLetters = "abcdefghijklmnopqrstuvwxyz"

// LowerCaseLetterString returns a random string of length n made of lowercase letters.
func LowerCaseLetterString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = lowerCaseLetters[rand.IntN(len(lowerCaseLetters))]
	}
	return string(b)
}
