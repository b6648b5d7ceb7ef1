package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triadwork/triad/pkg/models"
)

func TestRoleToAgentRole(t *testing.T) {
	assert.Equal(t, "assistant", roleToAgentRole(models.ChatRolePlanner))
	assert.Equal(t, "user", roleToAgentRole(models.ChatRoleUser))
	assert.Equal(t, "user", roleToAgentRole(models.ChatRoleOrchestrator))
	assert.Equal(t, "user", roleToAgentRole(models.ChatRoleReviewer))
}

func TestParsePlanLinesNumberedList(t *testing.T) {
	reply := "Here's the plan:\n1. Research the topic\n2) Draft an outline\n- Write the introduction\n* Review and polish\n\nLet me know if that works."

	titles := parsePlanLines(reply)

	assert.Equal(t, []string{
		"Research the topic",
		"Draft an outline",
		"Write the introduction",
		"Review and polish",
	}, titles)
}

func TestParsePlanLinesIgnoresProseWithNoListMarkers(t *testing.T) {
	reply := "I think we should start by researching the topic and then draft an outline."

	assert.Empty(t, parsePlanLines(reply))
}

func TestFirstNonEmptyLine(t *testing.T) {
	assert.Equal(t, "Research the topic", firstNonEmptyLine("\n\n  Research the topic  \nDraft an outline"))
	assert.Equal(t, "all blank", firstNonEmptyLine("all blank"))
	assert.Equal(t, "\n\n\n", firstNonEmptyLine("\n\n\n"), "falls back to the original string when every line is blank")
}
