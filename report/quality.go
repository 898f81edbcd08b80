package report

import (
	"regexp"
	"strings"
	"time"

	"github.com/richinex/deepresearch/model"
)

// Sensitivity rates how much a topic depends on current information.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

var (
	temporalPattern = regexp.MustCompile(`\b(latest|current(?:ly)?|recent(?:ly)?|today|now|this (?:year|month|week)|breaking|news|updates?|trends?|forecasts?|outlook|upcoming|new release)\b`)
	temporalCJK     = []string{"最新", "当前", "今年", "近期", "趋势"}
)

// SourceFreshness summarizes the years mentioned by the sources.
type SourceFreshness struct {
	Total      int `json:"total"`
	WithYear   int `json:"with_year"`
	Recent     int `json:"recent"`
	NewestYear int `json:"newest_year,omitempty"`
	OldestYear int `json:"oldest_year,omitempty"`
}

// Quality is the temporal quality assessment attached to a report.
type Quality struct {
	Sensitivity Sensitivity     `json:"temporal_sensitivity"`
	Freshness   SourceFreshness `json:"source_freshness"`
	Warning     string          `json:"warning,omitempty"`
}

// TemporalSensitivity rates topic and instruction by temporal keywords and
// mentions of recent years.
func TemporalSensitivity(topic, instruction string, now time.Time) Sensitivity {
	text := strings.ToLower(topic + " " + instruction)
	seen := make(map[string]bool)
	for _, m := range temporalPattern.FindAllString(text, -1) {
		seen[m] = true
	}
	for _, kw := range temporalCJK {
		if strings.Contains(text, kw) {
			seen[kw] = true
		}
	}
	hits := len(seen)
	recentYear := false
	for _, y := range mentionedYears(text) {
		if y >= now.Year()-1 {
			recentYear = true
		}
	}
	switch {
	case hits >= 2 || (hits >= 1 && recentYear):
		return SensitivityHigh
	case hits == 1 || recentYear:
		return SensitivityMedium
	default:
		return SensitivityLow
	}
}

// Freshness counts sources whose title or description mention a year no
// older than last year.
func Freshness(sources []model.Source, now time.Time) SourceFreshness {
	f := SourceFreshness{Total: len(sources)}
	for _, src := range sources {
		years := mentionedYears(src.Title + " " + src.Description + " " + src.URL)
		if len(years) == 0 {
			continue
		}
		f.WithYear++
		newest := 0
		for _, y := range years {
			if y > now.Year()+1 {
				continue
			}
			if y > newest {
				newest = y
			}
			if f.OldestYear == 0 || y < f.OldestYear {
				f.OldestYear = y
			}
		}
		if newest > f.NewestYear {
			f.NewestYear = newest
		}
		if newest >= now.Year()-1 {
			f.Recent++
		}
	}
	return f
}

func assessQuality(topic, instruction string, sources []model.Source, now time.Time) Quality {
	q := Quality{
		Sensitivity: TemporalSensitivity(topic, instruction, now),
		Freshness:   Freshness(sources, now),
	}
	if q.Sensitivity == SensitivityHigh && q.Freshness.Total > 0 && q.Freshness.Recent == 0 {
		q.Warning = "topic is time-sensitive but no source references recent information"
	}
	return q
}
