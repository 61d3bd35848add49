package utils

import (
	"math/rand"
	"strings"
	"time"
)

// NormalizeName lowercases and trims a subreddit or username so cache and
// store lookups agree on a single key form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func ContainsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

func UniqueStrings(input []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, val := range input {
		if !seen[val] {
			result = append(result, val)
			seen[val] = true
		}
	}
	return result
}

// ShuffleStrings returns a shuffled copy of a string slice.
func ShuffleStrings(input []string) []string {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	shuffled := make([]string, len(input))
	copy(shuffled, input)
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

func PickRandomString(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[rand.Intn(len(list))]
}

// IsValidAuthor filters out deleted accounts and Reddit's moderation bot,
// neither of which should ever become a user row or a discovery seed.
func IsValidAuthor(author string) bool {
	return author != "" && author != "[deleted]" && author != "AutoModerator"
}

// Retry runs fn up to attempts times with a fixed delay between tries.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return err
}

// Jitter returns base plus a random duration in [0, spread).
// Used for staggered task launches so fan-outs never start in lockstep.
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// StaggerDelay computes the initial sleep for the i-th task of a staggered
// fan-out: i*gap plus per-task jitter.
func StaggerDelay(i int, gap, jitterSpread time.Duration) time.Duration {
	return time.Duration(i)*gap + Jitter(0, jitterSpread)
}

// SleepCtx sleeps for d or until done is closed, whichever comes first.
// Returns false if interrupted.
func SleepCtx(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-done:
		return false
	}
}
