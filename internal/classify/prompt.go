package classify

import (
	"fmt"

	"github.com/kalambet/replyd/internal/domain"
)

const classifySystemPrompt = `You classify social media comments for a creator's account. Your output must be ONLY a single JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Categories:
- "lead": shows buying interest, asks about services or products, wants more info
- "praise": compliments, positive feedback, appreciation
- "question": asks a genuine question about the content or topic
- "complaint": negative feedback, problems, dissatisfaction
- "spam": promotional, irrelevant or suspicious content
- "general": normal engagement, casual comments

Set confidence between 0 and 1 and keep reasoning to one short sentence.`

const sentimentSystemPrompt = `You analyze the sentiment of social media comments. Your output must be ONLY a single JSON object that conforms to the provided schema.

- sentiment: "positive", "negative" or "neutral"
- confidence: between 0 and 1
- emotions: short lowercase words such as "joy", "anger", "curiosity"
- urgency: "low", "medium" or "high"`

// BuildPrompt returns the system and user prompts for classifying one comment.
func BuildPrompt(text string, platform domain.Platform) (string, string) {
	return classifySystemPrompt, fmt.Sprintf("Platform: %s\nComment: %q", platform, text)
}
