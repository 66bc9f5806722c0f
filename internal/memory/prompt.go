package memory

import (
	"strings"

	"github.com/arcfault/switchboard/pkg/models"
)

// memoryReminder closes the prompt block so the model treats the retrieved
// data as its own recall rather than quoted third-party text.
const memoryReminder = "The information above is your memory of this user and prior conversations. Treat it as context you already know; do not refer to it as retrieved or external data."

// PromptBlock renders the memory working set and retrieved entries into the
// structured block injected ahead of the conversation.
func PromptBlock(mc *models.MemoryContext, retrieved []models.MemoryEntry) string {
	var b strings.Builder
	writeSection := func(header string, entries []models.MemoryEntry) {
		if len(entries) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("### " + header + "\n")
		for _, e := range entries {
			b.WriteString("- " + e.Content + "\n")
		}
	}

	if mc != nil {
		writeSection("Current Session Context", mc.SessionMemory)
		writeSection("User History", mc.UserMemory)
	}
	writeSection("Retrieved Information from Previous Conversations", retrieved)

	if b.Len() == 0 {
		return ""
	}
	b.WriteString("\n" + memoryReminder + "\n")
	return b.String()
}
