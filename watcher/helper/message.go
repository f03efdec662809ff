package helper

import (
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/spance/capwatch/constants"
)

// CreateUserMessage builds a user message with the instruction text and, when given,
// one image part carrying the data URL.
func CreateUserMessage(text string, imageURL string, detail openai.ImageURLDetail) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: text,
			},
		},
	}
	if imageURL != "" {
		msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    imageURL,
				Detail: detail,
			},
		})
	}
	return msg
}

func PrintChatMessage(msg *openai.ChatCompletionMessage) {
	// user: text parts only, the image is too large for a log line
	if msg.Role == openai.ChatMessageRoleUser {
		for _, part := range msg.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				log.Debug().Str("text", part.Text).Msg("👤 user message")
			}
		}
	}
	if msg.Role == openai.ChatMessageRoleAssistant {
		log.Debug().Str("content", msg.Content).Msg("🌐 assistant message")
	}
}

func GetMessage(key string, lang string) string {
	if lang == constants.LangCN {
		return constants.MESSAGES_ZH_MAP[key]
	}
	return constants.MESSAGES_EN_MAP[key]
}
