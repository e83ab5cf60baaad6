package relay

import (
	"strings"

	"github.com/lexiqai/voice-relay/internal/llm"
)

// UsernamePlaceholder is replaced with the speaker's name in the system
// prompt and in stored history.
const UsernamePlaceholder = "{{username}}"

const defaultUsername = "user"

func fillUsername(text, username string) string {
	if !strings.Contains(text, UsernamePlaceholder) {
		return text
	}
	if strings.TrimSpace(username) == "" {
		username = defaultUsername
	}
	return strings.ReplaceAll(text, UsernamePlaceholder, username)
}

// buildRequest assembles the generator request. history already ends with
// the current transcript.
func buildRequest(cfg Config, history []llm.Message, username, additionalPrompt string) llm.Request {
	system := fillUsername(cfg.SystemPrompt, username)
	if extra := strings.TrimSpace(additionalPrompt); extra != "" {
		if system != "" {
			system += "\n\n"
		}
		system += fillUsername(extra, username)
	}

	return llm.Request{
		SystemPrompt: system,
		Messages:     history,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	}
}
