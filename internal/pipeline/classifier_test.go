// ABOUTME: Tests for the priority classifier
// ABOUTME: Pins rule ordering and both sides of each staleness boundary

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"unigate/internal/message"
)

const (
	staleMedium = 48 * time.Hour
	staleHigh   = 72 * time.Hour
)

func testClassifier(now time.Time) *Classifier {
	c := NewClassifier([]string{"urgent", "ASAP", "긴급"}, staleMedium, staleHigh)
	c.now = func() time.Time { return now }
	return c
}

func classify(c *Classifier, msg message.Message) message.Message {
	c.Classify(&msg)
	return msg
}

func TestClassify_UrgentKeyword(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := classify(c, message.Message{
		Body:       "this is URGENT please respond",
		Kind:       message.KindText,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityHigh, msg.Priority)
	assert.True(t, msg.HasAction)
}

func TestClassify_KeywordCaseInsensitive(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := classify(c, message.Message{Body: "need this asap", OccurredAt: now})
	assert.Equal(t, message.PriorityHigh, msg.Priority)
	assert.True(t, msg.HasAction)

	msg = classify(c, message.Message{Body: "긴급 확인 바랍니다", OccurredAt: now})
	assert.Equal(t, message.PriorityHigh, msg.Priority)
}

func TestClassify_KeywordBeatsMention(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	// Keyword rule fires first even for a fresh mention.
	msg := classify(c, message.Message{
		Body:       "urgent question",
		IsMention:  true,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityHigh, msg.Priority)
	assert.True(t, msg.HasAction)
}

func TestClassify_StaleMentionBoundaries(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	cases := []struct {
		name    string
		elapsed time.Duration
		want    message.Priority
	}{
		{"fresh mention", time.Hour, message.PriorityNone},
		{"just under medium", staleMedium - time.Second, message.PriorityNone},
		{"exactly medium", staleMedium, message.PriorityMedium},
		{"between tiers", staleMedium + time.Hour, message.PriorityMedium},
		{"exactly high", staleHigh, message.PriorityMedium},
		{"just past high", staleHigh + time.Second, message.PriorityHigh},
		{"well past high", staleHigh + 24*time.Hour, message.PriorityHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := classify(c, message.Message{
				Body:       "hello there",
				IsMention:  true,
				Kind:       message.KindText,
				OccurredAt: now.Add(-tc.elapsed),
			})
			assert.Equal(t, tc.want, msg.Priority)
			assert.False(t, msg.HasAction)
		})
	}
}

func TestClassify_QuestionMark(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := classify(c, message.Message{
		Body:       "are you coming tonight?",
		Kind:       message.KindText,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityLow, msg.Priority)

	// Non-text kinds question up to medium.
	msg = classify(c, message.Message{
		Body:       "what is this?",
		Kind:       message.KindImage,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityMedium, msg.Priority)

	// Trailing whitespace does not hide the question mark.
	msg = classify(c, message.Message{
		Body:       "when?  ",
		Kind:       message.KindText,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityLow, msg.Priority)

	// Mid-body question mark is not a question.
	msg = classify(c, message.Message{
		Body:       "the ? key is broken",
		Kind:       message.KindText,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityNone, msg.Priority)
}

func TestClassify_FreshMentionFallsThroughToQuestion(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := classify(c, message.Message{
		Body:       "can you review this?",
		Kind:       message.KindText,
		IsMention:  true,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityLow, msg.Priority)
}

func TestClassify_Default(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := classify(c, message.Message{
		Body:       "just saying hi",
		Kind:       message.KindText,
		OccurredAt: now,
	})
	assert.Equal(t, message.PriorityNone, msg.Priority)
	assert.False(t, msg.HasAction)
}

func TestClassify_ResetsPreviousValues(t *testing.T) {
	now := time.Now()
	c := testClassifier(now)

	msg := message.Message{
		Body:       "nothing special",
		Kind:       message.KindText,
		OccurredAt: now,
		Priority:   message.PriorityHigh,
		HasAction:  true,
	}
	c.Classify(&msg)
	assert.Equal(t, message.PriorityNone, msg.Priority)
	assert.False(t, msg.HasAction)
}
