// Package prompt renders chat turns into the Gemma turn-delimited format.
package prompt

import (
	"strings"

	"modelgw/pkg/types"
)

const (
	startOfTurn = "<start_of_turn>"
	endOfTurn   = "<end_of_turn>"
	modelRole   = "model"
)

// Build renders messages in order and leaves an open model turn at the end so
// the engine continues as the assistant. Messages with unknown roles are skipped.
func Build(messages []types.ChatMessage) string {
	parts := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		role, ok := turnRole(m.Role)
		if !ok {
			continue
		}
		parts = append(parts, startOfTurn+role+"\n"+m.Content+endOfTurn)
	}
	parts = append(parts, startOfTurn+modelRole+"\n")
	return strings.Join(parts, "\n")
}

// turnRole maps a chat role to its prompt label.
func turnRole(role string) (string, bool) {
	switch role {
	case types.RoleSystem, types.RoleUser:
		return role, true
	case types.RoleAssistant:
		return modelRole, true
	default:
		return "", false
	}
}
