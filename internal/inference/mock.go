package inference

import (
	"context"

	"github.com/fortitwin/interviewd/internal/session"
)

var mockQuestions = []string{
	"Tell me about a challenging project you worked on.",
	"How do you handle disagreements with team members?",
	"Describe a time you had to learn a new technology quickly.",
	"That covers my questions. Is there anything you would like to ask me?",
}

// MockClient provides deterministic interviewer replies when no inference
// backend is configured. The question asked depends only on how many
// candidate answers the transcript holds.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) GenerateReply(ctx context.Context, transcript []session.Turn) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	answered := 0
	for _, turn := range transcript {
		if turn.Role == session.RoleUser {
			answered++
		}
	}
	if answered == 0 {
		return mockQuestions[0], nil
	}
	idx := answered - 1
	if idx >= len(mockQuestions) {
		idx = len(mockQuestions) - 1
	}
	return mockQuestions[idx], nil
}
