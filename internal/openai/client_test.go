package openai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntent(t *testing.T) {
	tests := map[string]Intent{
		"dose_taken":        IntentDoseTaken,
		" List_Missed\n":    IntentListMissed,
		"list_overdue.":     IntentListOverdue,
		"\"recovery_check\"": IntentRecoveryCheck,
		"help":              IntentHelp,
		"add_reminder":      IntentUnknown,
		"":                  IntentUnknown,
	}
	for label, want := range tests {
		assert.Equal(t, want, ParseIntent(label), label)
	}
}

func TestDisabledClient(t *testing.T) {
	c := New("")
	assert.False(t, c.Enabled())

	intent, err := c.ClassifyIntent(context.Background(), "I took my pills")
	assert.ErrorIs(t, err, ErrClientNotInitialised)
	assert.Equal(t, IntentUnknown, intent)

	_, err = c.ClassifyIntent(context.Background(), "  ")
	assert.Error(t, err)
}
