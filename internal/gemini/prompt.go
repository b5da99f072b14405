package gemini

import (
	"fmt"
	"strings"

	"github.com/thinkscotty/dispatch/internal/models"
)

// BuildPrompt asks for an expert-sounding analysis of the news item in the
// given language, closing with an invitation that carries the control value.
func BuildPrompt(news models.NewsItem, controlValue, language string) string {
	if language == "" {
		language = "English"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Analyze this news story in %s: %s\n\n", language, news.Text()))
	sb.WriteString("Special instructions:\n")
	sb.WriteString("1. Write it so it is engaging and reads like an expert's take.\n")
	sb.WriteString("2. Close by inviting readers to see more analysis from a specially trained AI.\n")
	sb.WriteString(fmt.Sprintf("3. Attach this link at the end of the post: %s\n", controlValue))
	sb.WriteString("4. Mention that the chat room supports translation into every language.\n")
	return sb.String()
}

// ComposePost appends the link footer to the generated text. footer may hold
// one %s for the control value.
func ComposePost(text, controlValue, footer string) string {
	text = strings.TrimSpace(text)
	if footer == "" {
		return text
	}
	if strings.Contains(footer, "%s") {
		footer = fmt.Sprintf(footer, controlValue)
	}
	return text + "\n\n" + footer
}
