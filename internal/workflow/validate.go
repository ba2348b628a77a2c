package workflow

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/archplay/chuangcut-engine/internal/ai"
)

// durationTolerance is the largest disagreement between a storyboard's
// declared duration and the duration derived from its timestamps before
// the derived value replaces it.
const durationTolerance = 0.1

// Validation profiles for AI-produced storyboards. Strict rejects
// storyboards with missing fields; Lenient fills defaults and lets later
// stages (narration generation) cover the gaps.
const (
	StrictProfile  = "strict"
	LenientProfile = "lenient"
)

// SceneCheck is the tagged per-storyboard validation outcome. Validation
// never raises: invalid input yields OK=false, out-of-range scenes yield
// ShouldSkip=true, and corrected durations yield Fixed=true.
type SceneCheck struct {
	Storyboard ai.Storyboard `json:"storyboard"`
	OK         bool          `json:"ok"`
	Fixed      bool          `json:"fixed"`
	ShouldSkip bool          `json:"should_skip"`
	Issues     []string      `json:"issues,omitempty"`
}

// ValidationSummary aggregates a storyboard batch.
type ValidationSummary struct {
	Checks  []SceneCheck `json:"checks"`
	Valid   int          `json:"valid"`
	Skipped int          `json:"skipped"`
	Invalid int          `json:"invalid"`
	Fixed   int          `json:"fixed"`
}

var timestampRe = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})(?:[.,](\d{1,3}))?$`)

// ParseTimestamp converts an HH:MM:SS.mmm string to seconds.
func ParseTimestamp(ts string) (float64, error) {
	m := timestampRe.FindStringSubmatch(strings.TrimSpace(ts))
	if m == nil {
		return 0, fmt.Errorf("unparsable timestamp %q", ts)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	if mi > 59 || s > 59 {
		return 0, fmt.Errorf("timestamp %q out of range", ts)
	}
	frac := 0.0
	if m[4] != "" {
		padded := m[4] + strings.Repeat("0", 3-len(m[4]))
		ms, _ := strconv.Atoi(padded)
		frac = float64(ms) / 1000.0
	}
	return float64(h*3600+mi*60+s) + frac, nil
}

// FormatTimestamp renders seconds in the normalized HH:MM:SS.mmm form.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	h := totalMs / 3600000
	totalMs -= h * 3600000
	mi := totalMs / 60000
	totalMs -= mi * 60000
	s := totalMs / 1000
	ms := totalMs - s*1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, mi, s, ms)
}

// FixDuration recomputes a storyboard's duration from its timestamps and
// corrects it when the declared value disagrees by more than the tolerance.
// It reports whether a correction was applied.
func FixDuration(sb *ai.Storyboard) (bool, error) {
	start, err := ParseTimestamp(sb.StartTime)
	if err != nil {
		return false, err
	}
	end, err := ParseTimestamp(sb.EndTime)
	if err != nil {
		return false, err
	}
	derived := end - start
	if math.Abs(sb.DurationSeconds-derived) <= durationTolerance {
		return false, nil
	}
	sb.DurationSeconds = math.Round(derived*1000) / 1000
	return true, nil
}

// ValidateStoryboards checks a batch against the source video's total
// duration under the given profile. It is a pure function: the input slice
// is not mutated, and all outcomes are tagged results.
func ValidateStoryboards(profile string, boards []ai.Storyboard, videoDurationSeconds float64) ValidationSummary {
	summary := ValidationSummary{Checks: make([]SceneCheck, 0, len(boards))}

	for _, sb := range boards {
		check := validateOne(profile, sb, videoDurationSeconds)
		switch {
		case !check.OK:
			summary.Invalid++
		case check.ShouldSkip:
			summary.Skipped++
		default:
			summary.Valid++
		}
		if check.Fixed {
			summary.Fixed++
		}
		summary.Checks = append(summary.Checks, check)
	}

	return summary
}

func validateOne(profile string, sb ai.Storyboard, videoDuration float64) SceneCheck {
	check := SceneCheck{Storyboard: sb, OK: true}
	fail := func(issue string) {
		check.OK = false
		check.Issues = append(check.Issues, issue)
	}

	start, startErr := ParseTimestamp(sb.StartTime)
	end, endErr := ParseTimestamp(sb.EndTime)
	if startErr != nil {
		fail(startErr.Error())
	}
	if endErr != nil {
		fail(endErr.Error())
	}
	if !check.OK {
		return check
	}

	if start >= end {
		fail(fmt.Sprintf("start %s not before end %s", sb.StartTime, sb.EndTime))
		return check
	}

	if profile == StrictProfile {
		if sb.SourceVideo == "" {
			fail("missing source_video")
		}
		if len(sb.Narrations) == 0 && !sb.UseOriginalAudio {
			fail("missing narration candidates")
		}
		if !check.OK {
			return check
		}
	}

	// Normalize timestamps before persisting.
	check.Storyboard.StartTime = FormatTimestamp(start)
	check.Storyboard.EndTime = FormatTimestamp(end)

	if fixed, err := FixDuration(&check.Storyboard); err != nil {
		fail(err.Error())
		return check
	} else if fixed {
		check.Fixed = true
	}

	// A scene reaching past the end of the source is skippable, not fatal.
	if videoDuration > 0 && end > videoDuration+durationTolerance {
		check.ShouldSkip = true
		check.Issues = append(check.Issues,
			fmt.Sprintf("end %.3fs exceeds video duration %.3fs", end, videoDuration))
	}

	return check
}
