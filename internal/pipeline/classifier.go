// ABOUTME: Priority classifier applying keyword, stale-mention and question rules
// ABOUTME: Thresholds and keyword set come from configuration, never code

package pipeline

import (
	"strings"
	"time"

	"unigate/internal/message"
)

// Classifier assigns a priority and action flag to each message. Rules
// apply in order; the first match wins:
//
//  1. body contains an urgent keyword: high, hasAction set
//  2. mention older than the high staleness threshold: high
//  3. mention at or past the medium staleness threshold: medium
//  4. trailing question mark: low for text, medium for other kinds
//  5. otherwise: none
type Classifier struct {
	keywords    []string
	staleMedium time.Duration
	staleHigh   time.Duration

	now func() time.Time
}

// NewClassifier builds a classifier. Keywords match case-insensitively
// as substrings.
func NewClassifier(keywords []string, staleMedium, staleHigh time.Duration) *Classifier {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			lowered = append(lowered, strings.ToLower(k))
		}
	}
	return &Classifier{
		keywords:    lowered,
		staleMedium: staleMedium,
		staleHigh:   staleHigh,
		now:         time.Now,
	}
}

// Classify sets Priority and HasAction on the message in place.
func (c *Classifier) Classify(msg *message.Message) {
	msg.Priority = message.PriorityNone
	msg.HasAction = false

	body := strings.ToLower(msg.Body)
	for _, kw := range c.keywords {
		if strings.Contains(body, kw) {
			msg.Priority = message.PriorityHigh
			msg.HasAction = true
			return
		}
	}

	if msg.IsMention {
		elapsed := c.now().Sub(msg.OccurredAt)
		if elapsed > c.staleHigh {
			msg.Priority = message.PriorityHigh
			return
		}
		if elapsed >= c.staleMedium {
			msg.Priority = message.PriorityMedium
			return
		}
	}

	if strings.HasSuffix(strings.TrimSpace(msg.Body), "?") {
		if msg.Kind == message.KindText {
			msg.Priority = message.PriorityLow
		} else {
			msg.Priority = message.PriorityMedium
		}
	}
}
