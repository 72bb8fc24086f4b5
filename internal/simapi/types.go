package simapi

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SimulationChatResponse is the reply to a simulation chat message.
type SimulationChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	SimulationType string `json:"simulation_type"`
	IsSimulation   bool   `json:"is_simulation"`

	// Scenario is present when the service describes the role-play it set up.
	Scenario *SimulationScenario `json:"simulation_scenario,omitempty"`
}

// SimulationScenario describes the role-play the counterpart plays.
type SimulationScenario struct {
	SimulationID       string                `json:"simulation_id"`
	Title              string                `json:"title_simulation"`
	Contact            map[string]any        `json:"contact"`
	Context            string                `json:"context"`
	Objectives         []string              `json:"objectives"`
	EvaluationCriteria []EvaluationCriterion `json:"evaluation_criteria"`
}

// ContactField returns the string value of a contact attribute such as
// "name" or "role", or "" if absent.
func (s *SimulationScenario) ContactField(key string) string {
	if s == nil || s.Contact == nil {
		return ""
	}
	switch v := s.Contact[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// EvaluationCriterion is one axis the analysis scores.
type EvaluationCriterion struct {
	Criterion   string `json:"criterion"`
	Description string `json:"description"`
}

// AnalysisResult is the evaluation of a finished simulation. Score keys vary
// by simulation type.
type AnalysisResult struct {
	ConversationID      string             `json:"conversation_id"`
	SimulationType      string             `json:"simulation_type"`
	Summary             string             `json:"summary"`
	OverallScore        float64            `json:"overall_score"`
	Scores              map[string]float64 `json:"scores"`
	Strengths           []string           `json:"strengths"`
	AreasForImprovement []string           `json:"areas_for_improvement"`
	ActionableTips      []string           `json:"actionable_tips"`
	KeyMoments          []KeyMoment        `json:"key_moments"`
}

// KeyMoment is a notable exchange with feedback.
type KeyMoment struct {
	Moment   string `json:"moment"`
	Feedback string `json:"feedback"`
}

// ScoreLabel turns a score key such as "active_listening" into
// "Active Listening".
func ScoreLabel(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[n:]
	}
	return strings.Join(words, " ")
}
