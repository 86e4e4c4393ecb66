package scanner

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Reason explains why a burst was not accepted.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTooShort         Reason = "too_short"
	ReasonTooFewSamples    Reason = "too_few_samples"
	ReasonTooSlow          Reason = "too_slow"
	ReasonClockUnavailable Reason = "clock_unavailable"
)

// Verdict is the outcome of classifying one finished buffer.
type Verdict struct {
	Accepted    bool
	Reason      Reason
	Code        string
	AvgInterval time.Duration
	Intervals   []time.Duration
}

// Classifier separates scanner bursts from human typing by the mean gap
// between keys. There is no outlier correction: one long pause mid-burst
// moves the mean like any other gap.
type Classifier struct {
	MinLength        int
	MaxInterKeyDelay time.Duration
}

// Classify decides whether buffer, typed at stamps, came from a scanner.
// Length is counted in characters after trimming surrounding whitespace.
func (c Classifier) Classify(buffer string, stamps []time.Time) Verdict {
	code := strings.TrimSpace(buffer)
	v := Verdict{Code: code}

	if utf8.RuneCountInString(code) < c.MinLength {
		v.Reason = ReasonTooShort
		return v
	}
	if len(stamps) < 2 {
		v.Reason = ReasonTooFewSamples
		return v
	}

	v.Intervals = make([]time.Duration, 0, len(stamps)-1)
	var total time.Duration
	for i := 1; i < len(stamps); i++ {
		if stamps[i].IsZero() || stamps[i-1].IsZero() {
			v.Reason = ReasonClockUnavailable
			return v
		}
		d := stamps[i].Sub(stamps[i-1])
		if d < 0 {
			v.Reason = ReasonClockUnavailable
			return v
		}
		v.Intervals = append(v.Intervals, d)
		total += d
	}

	v.AvgInterval = total / time.Duration(len(v.Intervals))
	if v.AvgInterval > c.MaxInterKeyDelay {
		v.Reason = ReasonTooSlow
		return v
	}

	v.Accepted = true
	return v
}
