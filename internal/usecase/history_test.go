package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"deepchat/internal/domain"
)

func assistantWithCalls(ids ...string) domain.Message {
	msg := domain.Message{Role: domain.RoleAssistant}
	for _, id := range ids {
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCallRef{
			ID:       id,
			Type:     "function",
			Function: domain.ToolFunction{Name: "file_read", Arguments: "{}"},
		})
	}
	return msg
}

func toolResponse(id string) domain.Message {
	return domain.Message{Role: domain.RoleTool, Content: `"ok"`, ToolCallID: id}
}

func TestValidateHistoryAllMatched(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "read it"},
		assistantWithCalls("c1", "c2"),
		toolResponse("c1"),
		toolResponse("c2"),
		{Role: domain.RoleAssistant, Content: "here you go"},
	}
	assert.Empty(t, ValidateHistory(history))
}

func TestValidateHistoryReportsUnmatched(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "read it"},
		assistantWithCalls("c1", "c2"),
		toolResponse("c2"),
	}
	assert.Equal(t, []string{"c1"}, ValidateHistory(history))
}

func TestValidateHistoryResponseAnywhereLater(t *testing.T) {
	// A response in a later turn still satisfies the reference; partial
	// histories come from retried or truncated earlier turns and must
	// not reject the request.
	history := []domain.Message{
		assistantWithCalls("c1"),
		{Role: domain.RoleUser, Content: "and then?"},
		toolResponse("c1"),
	}
	assert.Empty(t, ValidateHistory(history))
}

func TestValidateHistoryEmpty(t *testing.T) {
	assert.Empty(t, ValidateHistory(nil))
}
