package api

import (
	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

// SelectStepInput asks to navigate to a step.
type SelectStepInput struct {
	StepID int `json:"step_id" validate:"required,min=1"`
}

// SelectStepResponse reports whether navigation was accepted. Gated requests
// are not errors; the current step simply stays where it was.
type SelectStepResponse struct {
	Accepted bool          `json:"accepted"`
	Progress progress.View `json:"progress"`
}

// CompleteStepInput controls whether completing a step also unlocks the next one.
type CompleteStepInput struct {
	UnlockNext *bool `json:"unlock_next,omitempty"`
}

// CompletionResponse is returned after a completion was saved. Warning is set
// when the step was saved but the next step could not be unlocked.
type CompletionResponse struct {
	Progress progress.View `json:"progress"`
	Warning  string        `json:"warning,omitempty"`
}

// TopicResponse carries the saved answers of a topic. Answers is null when
// nothing was saved yet.
type TopicResponse struct {
	Topic   string         `json:"topic"`
	StepID  int            `json:"step_id,omitempty"`
	Answers topics.Answers `json:"answers"`
}

// SubmitTopicInput saves topic answers.
type SubmitTopicInput struct {
	Answers topics.Answers `json:"answers" validate:"required"`
}
