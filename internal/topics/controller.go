package topics

import (
	"context"
	"fmt"

	"github.com/vitalis-labs/service_layer/internal/progress"
)

// Controller backs the topic forms: it saves answers and then completes the
// owning step and unlocks the one after it.
type Controller struct {
	repo     *Repository
	sessions *progress.Sessions
}

// NewController creates a controller.
func NewController(repo *Repository, sessions *progress.Sessions) *Controller {
	return &Controller{repo: repo, sessions: sessions}
}

// Repository returns the underlying repository.
func (c *Controller) Repository() *Repository {
	return c.repo
}

// Load returns the saved answers of a topic for prefilling the form.
func (c *Controller) Load(ctx context.Context, userID, topic string) (Answers, error) {
	return c.repo.Latest(ctx, topic, userID)
}

// Submit saves answers and completes the topic's step. When saving fails the
// step is left untouched.
func (c *Controller) Submit(ctx context.Context, userID, topic string, answers Answers) (progress.View, error) {
	step, ok := c.sessions.Catalog().ByTopic(topic)
	if !ok {
		return progress.View{}, fmt.Errorf("%w: %s has no step", ErrUnknownTopic, topic)
	}
	session := c.sessions.Get(ctx, userID)
	if view := session.View(); step.ID > view.MaxAllowedStep {
		return view, progress.ErrStepLocked
	}

	if err := c.repo.Save(ctx, topic, userID, answers); err != nil {
		return session.View(), err
	}
	return session.CompleteAndUnlockNext(ctx, step.ID)
}

// Evidence reports a step as completed when its topic has saved answers.
// Steps without a topic keep their stored flag.
func (c *Controller) Evidence() progress.Evidence {
	catalog := c.sessions.Catalog()
	return func(ctx context.Context, row progress.StepProgress) (bool, error) {
		step, ok := catalog.Get(row.StepNumber)
		if !ok || step.Topic == "" {
			return row.Completed, nil
		}
		return c.repo.HasAnswer(ctx, step.Topic, row.UserID)
	}
}
