package helper

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ParseVerdict interprets free-text model output. Any occurrence of "true",
// in any case, is a positive answer; everything else is negative.
func ParseVerdict(content string) bool {
	return strings.Contains(strings.ToLower(content), "true")
}

// FirstChoiceContent returns the content of the first choice, or "" when the
// response carries none.
func FirstChoiceContent(resp *openai.ChatCompletionResponse) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
