package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/wuwenbin0122/modelchat/internal/models"
)

const (
	defaultTitleLength = 40
	titleEllipsis      = "..."
)

// DeriveTitle keeps the first max runes of text verbatim and marks truncation.
func DeriveTitle(text string, max int) string {
	if max <= 0 {
		max = defaultTitleLength
	}

	if utf8.RuneCountInString(text) <= max {
		return text
	}

	var builder strings.Builder
	count := 0
	for _, r := range text {
		if count >= max {
			break
		}
		builder.WriteRune(r)
		count++
	}
	builder.WriteString(titleEllipsis)
	return builder.String()
}

func firstUserMessage(history []models.Message) (models.Message, bool) {
	for _, msg := range history {
		if msg.Role == models.RoleUser {
			return msg, true
		}
	}
	return models.Message{}, false
}
