// Package classify turns raw result-feed text into a per-cycle verdict
// for one submission, located by its marker string.
//
// Everything here is pure text-in/struct-out. The same (text, marker)
// pair always produces the identical Result.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"hookbot/internal/task"
)

// Status is the per-cycle state read off the feed.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusCompleted  Status = "completed"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusSubmitted  Status = "submitted"
)

// Result is one cycle's verdict. It is derived fresh every cycle and only
// folded into the task record at termination.
type Result struct {
	Status       Status
	HasResults   bool
	IsProcessing bool
	HasError     bool
	Details      string
	Metrics      task.Metrics
}

// windowRadius bounds the context around the marker so patterns from
// unrelated feed entries cannot fire.
const windowRadius = 2000

// Status checks run in priority order; the first hit wins.
var statusChecks = []struct {
	status Status
	re     *regexp.Regexp
}{
	{StatusCompleted, regexp.MustCompile(`(?i)(?:completed|success|✅)`)},
	{StatusProcessing, regexp.MustCompile(`(?i)(?:processing|evaluating|pending|⏳)`)},
	{StatusFailed, regexp.MustCompile(`(?i)(?:failed|error|timeout|❌)`)},
	{StatusSubmitted, regexp.MustCompile(`(?i)(?:submitted|received)`)},
}

// Per metric, candidate patterns in order; the first capture wins.
var metricChecks = []struct {
	name      string
	res       []*regexp.Regexp
	normalize func(string) string
}{
	{
		name: task.MetricOverallScore,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Overall\s+Score[:\s]*(\d+(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)Score[:\s]*(\d+(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)overall[:\s]*(\d+(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:points?|pts?)`),
		},
	},
	{
		name: task.MetricAccuracy,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Accuracy[:\s]*(\d+(?:\.\d+)?%?)`),
			regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)%\s*(?:accuracy|acc)`),
			regexp.MustCompile(`(?i)correct[:\s]*(\d+(?:\.\d+)?%?)`),
		},
		normalize: ensurePercent,
	},
	{
		name: task.MetricAvgResponse,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Avg\s+Response[:\s]*(\d+(?:\.\d+)?)\s*ms`),
			regexp.MustCompile(`(?i)Average\s+Response[:\s]*(\d+(?:\.\d+)?)\s*ms`),
			regexp.MustCompile(`(?i)Response\s+Time[:\s]*(\d+(?:\.\d+)?)\s*ms`),
			regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*ms\s*(?:response|avg)`),
			regexp.MustCompile(`(?i)latency[:\s]*(\d+(?:\.\d+)?)\s*ms`),
		},
		normalize: ensureMillis,
	},
	{
		name: task.MetricPosition,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Position[:\s]*#?(\d+)`),
			regexp.MustCompile(`(?i)Rank[:\s]*#?(\d+)`),
			regexp.MustCompile(`(?i)#(\d+)\s*(?:position|rank)`),
			regexp.MustCompile(`(?i)place[:\s]*(\d+)`),
		},
		normalize: ensureHash,
	},
	{
		name: task.MetricF1Score,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)F1[:\s]*(\d+(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)F1-Score[:\s]*(\d+(?:\.\d+)?)`),
		},
	},
	{
		name: task.MetricPrecision,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Precision[:\s]*(\d+(?:\.\d+)?%?)`),
		},
	},
	{
		name: task.MetricRecall,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Recall[:\s]*(\d+(?:\.\d+)?%?)`),
		},
	},
	{
		name: task.MetricThroughput,
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Throughput[:\s]*(\d+(?:\.\d+)?)`),
			regexp.MustCompile(`(?i)RPS[:\s]*(\d+(?:\.\d+)?)`),
		},
	},
}

// Errors anywhere in the context flag the entry even when no status
// pattern fired.
var errorKeywords = []string{"error", "failed", "timeout", "invalid", "rejected"}

// MarkerPresent reports whether the marker appears anywhere in the text,
// case-insensitive. The confirmation phase needs only this.
func MarkerPresent(pageText, marker string) bool {
	return markerIndex(pageText, marker) >= 0
}

func markerIndex(pageText, marker string) int {
	return strings.Index(strings.ToLower(pageText), strings.ToLower(marker))
}

// Classify locates marker in pageText and reads status and metrics from
// the surrounding context window.
func Classify(pageText, marker string) Result {
	idx := markerIndex(pageText, marker)
	if idx < 0 {
		return Result{
			Status:  StatusUnknown,
			Details: "Submission not found on page",
			Metrics: task.Metrics{},
		}
	}

	context := window(pageText, idx, windowRadius)

	status := StatusUnknown
	for _, c := range statusChecks {
		if c.re.MatchString(context) {
			status = c.status
			break
		}
	}

	metrics := task.Metrics{}
	for _, mc := range metricChecks {
		for _, re := range mc.res {
			m := re.FindStringSubmatch(context)
			if m == nil {
				continue
			}
			v := m[1]
			if mc.normalize != nil {
				v = mc.normalize(v)
			}
			metrics[mc.name] = v
			break
		}
	}

	hasResults := metrics.HasResults()

	hasError := status == StatusFailed
	if !hasError {
		lower := strings.ToLower(context)
		for _, kw := range errorKeywords {
			if strings.Contains(lower, kw) {
				hasError = true
				break
			}
		}
	}

	isProcessing := (status == StatusProcessing || status == StatusSubmitted) &&
		!hasResults && !hasError

	return Result{
		Status:       status,
		HasResults:   hasResults,
		IsProcessing: isProcessing,
		HasError:     hasError,
		Details:      buildDetails(status, metrics, hasResults),
		Metrics:      metrics,
	}
}

// window slices radius runes either side of the byte offset idx. Rune
// counting keeps the reach stable on feeds with non-ASCII text and
// never splits a rune at the edge.
func window(text string, idx, radius int) string {
	start := idx
	for i := 0; i < radius && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := idx
	for i := 0; i < radius && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

func buildDetails(status Status, metrics task.Metrics, hasResults bool) string {
	if !hasResults {
		return "Status: " + string(status) + ", No metrics found"
	}

	parts := []string{}
	if v, ok := metrics[task.MetricOverallScore]; ok {
		parts = append(parts, "Score: "+v)
	}
	if v, ok := metrics[task.MetricAccuracy]; ok {
		parts = append(parts, "Accuracy: "+v)
	}
	if v, ok := metrics[task.MetricAvgResponse]; ok {
		parts = append(parts, "Response: "+v)
	}
	if v, ok := metrics[task.MetricPosition]; ok {
		parts = append(parts, "Position: "+v)
	}
	return "Status: " + string(status) + ", " + strings.Join(parts, ", ")
}

func ensurePercent(v string) string {
	if strings.HasSuffix(v, "%") {
		return v
	}
	return v + "%"
}

func ensureMillis(v string) string {
	return v + "ms"
}

func ensureHash(v string) string {
	return "#" + v
}
