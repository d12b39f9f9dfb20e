package adherence

import (
	"strings"
	"time"
)

// FrequencyClass is a coarse label for how often a medication is taken.
type FrequencyClass int

const (
	FrequencyUnknown FrequencyClass = iota
	FrequencyOnceDaily
	FrequencyTwiceDaily
	FrequencyThreeTimesDaily
	FrequencyFourTimesDaily
	FrequencyEvery4Hours
	FrequencyEvery6Hours
	FrequencyEvery8Hours
	FrequencyEvery12Hours
	FrequencyAsNeeded
)

// DefaultMinimumGap applies to unknown and as-needed frequencies.
const DefaultMinimumGap = 4 * time.Hour

var minimumGaps = map[FrequencyClass]time.Duration{
	FrequencyOnceDaily:       8 * time.Hour,
	FrequencyTwiceDaily:      4 * time.Hour,
	FrequencyThreeTimesDaily: 3 * time.Hour,
	FrequencyFourTimesDaily:  2 * time.Hour,
	FrequencyEvery4Hours:     2 * time.Hour,
	FrequencyEvery6Hours:     3 * time.Hour,
	FrequencyEvery8Hours:     4 * time.Hour,
	FrequencyEvery12Hours:    6 * time.Hour,
}

var frequencyNames = map[FrequencyClass]string{
	FrequencyUnknown:         "unknown",
	FrequencyOnceDaily:       "once daily",
	FrequencyTwiceDaily:      "twice daily",
	FrequencyThreeTimesDaily: "three times daily",
	FrequencyFourTimesDaily:  "four times daily",
	FrequencyEvery4Hours:     "every 4 hours",
	FrequencyEvery6Hours:     "every 6 hours",
	FrequencyEvery8Hours:     "every 8 hours",
	FrequencyEvery12Hours:    "every 12 hours",
	FrequencyAsNeeded:        "as needed",
}

// frequencyLabels maps normalised user labels onto classes. Matching is exact after
// normalisation; anything else is FrequencyUnknown.
var frequencyLabels = map[string]FrequencyClass{
	"once daily":        FrequencyOnceDaily,
	"once a day":        FrequencyOnceDaily,
	"daily":             FrequencyOnceDaily,
	"1x daily":          FrequencyOnceDaily,
	"qd":                FrequencyOnceDaily,
	"twice daily":       FrequencyTwiceDaily,
	"twice a day":       FrequencyTwiceDaily,
	"2x daily":          FrequencyTwiceDaily,
	"bid":               FrequencyTwiceDaily,
	"three times daily": FrequencyThreeTimesDaily,
	"three times a day": FrequencyThreeTimesDaily,
	"3x daily":          FrequencyThreeTimesDaily,
	"tid":               FrequencyThreeTimesDaily,
	"four times daily":  FrequencyFourTimesDaily,
	"four times a day":  FrequencyFourTimesDaily,
	"4x daily":          FrequencyFourTimesDaily,
	"qid":               FrequencyFourTimesDaily,
	"every 4 hours":     FrequencyEvery4Hours,
	"q4h":               FrequencyEvery4Hours,
	"every 6 hours":     FrequencyEvery6Hours,
	"q6h":               FrequencyEvery6Hours,
	"every 8 hours":     FrequencyEvery8Hours,
	"q8h":               FrequencyEvery8Hours,
	"every 12 hours":    FrequencyEvery12Hours,
	"q12h":              FrequencyEvery12Hours,
	"as needed":         FrequencyAsNeeded,
	"prn":               FrequencyAsNeeded,
}

// ParseFrequency normalises a free-text label ("Twice-Daily", "BID") into a class.
func ParseFrequency(label string) FrequencyClass {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.NewReplacer("-", " ", "_", " ", ".", "").Replace(normalized)
	normalized = strings.Join(strings.Fields(normalized), " ")
	if class, ok := frequencyLabels[normalized]; ok {
		return class
	}
	return FrequencyUnknown
}

// MinimumGap is the shortest safe spacing between two doses of this class.
func (f FrequencyClass) MinimumGap() time.Duration {
	if gap, ok := minimumGaps[f]; ok {
		return gap
	}
	return DefaultMinimumGap
}

func (f FrequencyClass) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return "unknown"
}
