package simapi_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/voicesim/internal/simapi"
)

func TestScoreLabel(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"clarity":            "Clarity",
		"active_listening":   "Active Listening",
		"objection-handling": "Objection Handling",
		"écoute_active":      "Écoute Active",
		"été-œuvre":          "Été Œuvre",
		"":                   "",
	}
	for in, want := range tests {
		got := simapi.ScoreLabel(in)
		if got != want {
			t.Errorf("ScoreLabel(%q) = %q, want %q", in, got, want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("ScoreLabel(%q) = %q is not valid UTF-8", in, got)
		}
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	err := simapi.WriteReport(&b, &simapi.AnalysisResult{
		ConversationID:      "conv-1",
		SimulationType:      "peer_feedback",
		Summary:             "Good structure.",
		OverallScore:        3.5,
		Scores:              map[string]float64{"empathy": 4, "clarity": 3},
		Strengths:           []string{"Concrete"},
		AreasForImprovement: []string{"Tone"},
		KeyMoments:          []simapi.KeyMoment{{Moment: "Intro", Feedback: "Warm opening"}},
	})
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"Analysis of conv-1 (peer_feedback)",
		"Overall score: 3.5/5",
		"Good structure.",
		"Strengths:\n  - Concrete",
		"Areas for improvement:\n  - Tone",
		`- "Intro"`,
		"Warm opening",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Actionable tips") {
		t.Error("empty section rendered")
	}
	if ci, ei := strings.Index(out, "Clarity"), strings.Index(out, "Empathy"); ci < 0 || ei < 0 || ci > ei {
		t.Errorf("scores not sorted by key:\n%s", out)
	}
	if !strings.Contains(out, "4/5") {
		t.Errorf("whole score not rendered without decimals:\n%s", out)
	}
}
