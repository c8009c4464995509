package players

import (
	"math"
	"time"
	"unicode/utf8"
)

// Accuracy is the percentage of typed characters that match the phrase at the
// same position. Characters typed past the end of the phrase count as misses.
// An empty progress string is 100% accurate.
func Accuracy(progress, phrase string) int {
	typed := []rune(progress)
	if len(typed) == 0 {
		return 100
	}
	target := []rune(phrase)
	correct := 0
	for i, r := range typed {
		if i < len(target) && target[i] == r {
			correct++
		}
	}
	return int(math.Round(float64(correct) / float64(len(typed)) * 100))
}

// WPM converts typed characters into words per minute using the five
// characters per word convention. A nil start or a non-positive elapsed time
// yields 0.
func WPM(progress string, start *time.Time, end time.Time) int {
	if start == nil {
		return 0
	}
	elapsed := end.Sub(*start)
	if elapsed <= 0 {
		return 0
	}
	words := float64(utf8.RuneCountInString(progress)) / 5
	return int(math.Round(words / elapsed.Minutes()))
}
