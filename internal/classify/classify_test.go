package classify

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"hookbot/internal/task"
)

// feedWithScores mimics the submissions page: another team's scored entry
// sits far above the target so the context window isolates the target.
var feedWithScores = "Leaderboard - All Submissions\n\n" +
	"team rocket baseline   Completed\n" +
	"Overall Score: 91.2 Accuracy: 88 Avg Response: 340 ms\n" +
	strings.Repeat(" ", 2500) +
	"\napi test run #1   Completed\n" +
	"Overall Score: 87.5 Accuracy: 92% Avg Response: 120 ms Position: #3\n" +
	"F1: 0.88 Precision: 94% Recall: 0.91 Throughput: 52\n"

func TestClassifyScoredEntry(t *testing.T) {
	t.Parallel()

	got := Classify(feedWithScores, "api test run #1")

	if got.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if !got.HasResults {
		t.Fatalf("HasResults = false, want true")
	}
	if got.IsProcessing {
		t.Fatalf("IsProcessing = true, want false")
	}

	wantMetrics := task.Metrics{
		task.MetricOverallScore: "87.5",
		task.MetricAccuracy:     "92%",
		task.MetricAvgResponse:  "120ms",
		task.MetricPosition:     "#3",
		task.MetricF1Score:      "0.88",
		task.MetricPrecision:    "94%",
		task.MetricRecall:       "0.91",
		task.MetricThroughput:   "52",
	}
	if !reflect.DeepEqual(got.Metrics, wantMetrics) {
		t.Fatalf("Metrics = %v, want %v", got.Metrics, wantMetrics)
	}
}

func TestClassifyScenarioA(t *testing.T) {
	t.Parallel()

	text := "entry: nightly deploy check Completed Overall Score: 87.5 Accuracy: 92% done"
	got := Classify(text, "nightly deploy check")

	if got.Metrics[task.MetricOverallScore] != "87.5" {
		t.Fatalf("overall_score = %q, want 87.5", got.Metrics[task.MetricOverallScore])
	}
	if got.Metrics[task.MetricAccuracy] != "92%" {
		t.Fatalf("accuracy = %q, want 92%%", got.Metrics[task.MetricAccuracy])
	}
	if !got.HasResults {
		t.Fatalf("HasResults = false, want true")
	}
}

func TestClassifyMarkerAbsent(t *testing.T) {
	t.Parallel()

	got := Classify(feedWithScores, "some other submission")

	if got.Status != StatusUnknown {
		t.Fatalf("Status = %s, want unknown", got.Status)
	}
	if got.HasResults || got.HasError || got.IsProcessing {
		t.Fatalf("booleans = %v/%v/%v, want all false",
			got.HasResults, got.HasError, got.IsProcessing)
	}
	if len(got.Metrics) != 0 {
		t.Fatalf("Metrics = %v, want empty", got.Metrics)
	}
	if got.Details != "Submission not found on page" {
		t.Fatalf("Details = %q", got.Details)
	}
}

func TestClassifyStillProcessing(t *testing.T) {
	t.Parallel()

	text := "queue: smoke run alpha is processing, check back soon"
	got := Classify(text, "smoke run alpha")

	if got.Status != StatusProcessing {
		t.Fatalf("Status = %s, want processing", got.Status)
	}
	if !got.IsProcessing {
		t.Fatalf("IsProcessing = false, want true")
	}
	if got.HasResults || got.HasError {
		t.Fatalf("HasResults/HasError = %v/%v, want false", got.HasResults, got.HasError)
	}
}

func TestClassifySubmittedCountsAsProcessing(t *testing.T) {
	t.Parallel()

	text := "entry smoke run beta was received by the queue"
	got := Classify(text, "smoke run beta")

	if got.Status != StatusSubmitted {
		t.Fatalf("Status = %s, want submitted", got.Status)
	}
	if !got.IsProcessing {
		t.Fatalf("IsProcessing = false, want true")
	}
}

func TestClassifyErrorKeywords(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
	}{
		{"rejected", "entry bad run one was rejected by the platform"},
		{"invalid", "entry bad run one invalid webhook response"},
		{"timeout", "entry bad run one timeout while probing endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.text, "bad run one")
			if !got.HasError {
				t.Fatalf("HasError = false, want true for %q", tc.text)
			}
			if got.IsProcessing {
				t.Fatalf("IsProcessing = true with error present")
			}
		})
	}
}

func TestClassifyFailedStatusSetsError(t *testing.T) {
	t.Parallel()

	// "Failed" is both a status pattern and an error keyword; either
	// route must end with HasError set.
	got := Classify("entry doomed run Failed", "doomed run")
	if got.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if !got.HasError {
		t.Fatalf("HasError = false, want true")
	}
}

func TestClassifyStatusPriority(t *testing.T) {
	t.Parallel()

	// Completed outranks failed even when both words are in the window.
	got := Classify("previous attempt failed, retry of mixed run Completed", "mixed run")
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	// The stray "failed" keyword still flags the context.
	if !got.HasError {
		t.Fatalf("HasError = false, want true")
	}
}

func TestClassifySecondaryMetricsAlone(t *testing.T) {
	t.Parallel()

	got := Classify("entry partial run Completed F1: 0.88 Recall: 0.91", "partial run")
	if got.HasResults {
		t.Fatalf("HasResults = true on secondary metrics only")
	}
	if got.Metrics[task.MetricF1Score] != "0.88" {
		t.Fatalf("f1_score = %q, want 0.88", got.Metrics[task.MetricF1Score])
	}
	if got.Details != "Status: completed, No metrics found" {
		t.Fatalf("Details = %q", got.Details)
	}
}

func TestClassifyWindowBoundsMatches(t *testing.T) {
	t.Parallel()

	// A score line far beyond the window must not leak into the verdict.
	text := "distant entry Overall Score: 99.9" + strings.Repeat(" ", 2500) +
		"my quiet run sits here with no numbers"
	got := Classify(text, "my quiet run")

	if _, ok := got.Metrics[task.MetricOverallScore]; ok {
		t.Fatalf("picked up a score from outside the context window: %v", got.Metrics)
	}
	if got.HasResults {
		t.Fatalf("HasResults = true from out-of-window metrics")
	}
}

func TestClassifyWindowCountsRunes(t *testing.T) {
	t.Parallel()

	// 1500 two-byte runes put the status word past 2000 bytes but well
	// inside 2000 code points. Counting bytes would lose it.
	text := "entry unicode run " + strings.Repeat("é", 1500) + " still processing"
	got := Classify(text, "unicode run")

	if got.Status != StatusProcessing {
		t.Fatalf("Status = %s, want processing", got.Status)
	}
	if !got.IsProcessing {
		t.Fatalf("IsProcessing = false, want true")
	}
}

func TestClassifyWindowEdgeKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("漢", 3000) + "edge run" + strings.Repeat("漢", 3000)
	ctx := window(text, strings.Index(text, "edge run"), 2000)

	if !utf8.ValidString(ctx) {
		t.Fatalf("window split a rune at the boundary")
	}
	// 2000 back + marker and 2000-ish forward.
	if n := utf8.RuneCountInString(ctx); n < 3900 || n > 4100 {
		t.Fatalf("window spans %d runes", n)
	}
}

func TestClassifyDetailsFormat(t *testing.T) {
	t.Parallel()

	text := "entry detail run Completed Overall Score: 87.5 Accuracy: 92% Avg Response: 120 ms Position: #3"
	got := Classify(text, "detail run")

	want := "Status: completed, Score: 87.5, Accuracy: 92%, Response: 120ms, Position: #3"
	if got.Details != want {
		t.Fatalf("Details = %q, want %q", got.Details, want)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	first := Classify(feedWithScores, "api test run #1")
	for i := 0; i < 5; i++ {
		again := Classify(feedWithScores, "api test run #1")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
	// A terminal verdict never weakens on unchanged input.
	if !first.HasResults {
		t.Fatalf("fixture should classify as scored")
	}
}

func TestMarkerPresent(t *testing.T) {
	t.Parallel()

	if !MarkerPresent("Entry: API Test Run #1 pending", "api test run #1") {
		t.Fatalf("case-insensitive marker lookup failed")
	}
	if MarkerPresent("nothing here", "api test run #1") {
		t.Fatalf("marker reported present in unrelated text")
	}
}
