package simapi

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// WriteReport renders r as plain text: summary, overall score, per-criterion
// scores sorted by key, then strengths, improvements, tips and key moments.
// Empty sections are omitted.
func WriteReport(w io.Writer, r *AnalysisResult) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Analysis of %s", r.ConversationID)
	if r.SimulationType != "" {
		fmt.Fprintf(&b, " (%s)", r.SimulationType)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Overall score: %s\n", formatScore(r.OverallScore))
	if r.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Summary)
	}

	if len(r.Scores) > 0 {
		b.WriteString("\nScores:\n")
		keys := make([]string, 0, len(r.Scores))
		for k := range r.Scores {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %-28s %s\n", ScoreLabel(k), formatScore(r.Scores[k]))
		}
	}

	writeList(&b, "Strengths", r.Strengths)
	writeList(&b, "Areas for improvement", r.AreasForImprovement)
	writeList(&b, "Actionable tips", r.ActionableTips)

	if len(r.KeyMoments) > 0 {
		b.WriteString("\nKey moments:\n")
		for _, km := range r.KeyMoments {
			fmt.Fprintf(&b, "  - %q\n    %s\n", km.Moment, km.Feedback)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

// MaxScore is the top of the service's scoring scale.
const MaxScore = 5

// formatScore prints whole scores without decimals.
func formatScore(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d/%d", int64(v), MaxScore)
	}
	return fmt.Sprintf("%.1f/%d", v, MaxScore)
}
