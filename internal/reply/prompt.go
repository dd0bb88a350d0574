package reply

import (
	"fmt"
	"strings"

	"github.com/kalambet/replyd/internal/domain"
)

var categoryGuidance = map[domain.Category]string{
	domain.Lead: `LEAD (buying interest):
- Show genuine excitement about their interest
- Offer to share more information in a private message
- Keep it warm and never pushy
- Example: "So glad this resonates! I'd love to share more details - check your DMs! 🙏"`,
	domain.Praise: `PRAISE (compliments):
- Express heartfelt gratitude
- Mention how their support motivates you
- Ask a follow-up question to keep them engaged
- Example: "Thank you so much! This kind of encouragement keeps me going. What's been your biggest takeaway?"`,
	domain.Question: `QUESTION (genuine questions):
- Answer helpfully from your own experience
- Invite further discussion
- Example: "Great question! In my experience... What's your current approach to this?"`,
	domain.Complaint: `COMPLAINT (negative feedback):
- Acknowledge their concern without being defensive
- Offer to make it right privately
- Example: "I hear you and appreciate the feedback. Let me make this right - DMing you now."`,
	domain.General: `GENERAL (casual engagement):
- Match their energy and celebrate the community
- Example: "Love seeing this kind of discussion! You all inspire me daily 💪"`,
	domain.Spam: `SPAM (promotional or irrelevant):
- Stay polite and very brief
- Do not engage with links or offers`,
}

var platformHints = map[domain.Platform]string{
	domain.YouTube:   "YouTube: more detailed and educational responses are welcome",
	domain.Instagram: "Instagram: visual, emoji-friendly, shorter replies",
	domain.Facebook:  "Facebook: community-focused and conversational",
	domain.LinkedIn:  "LinkedIn: professional but personal",
	domain.Twitter:   "Twitter: concise, strictly under 280 characters",
}

// buildSystemPrompt assembles brand voice, category guidance and platform
// hints into one system message.
func buildSystemPrompt(voiceSummary string, category domain.Category, platform domain.Platform) string {
	var sb strings.Builder

	sb.WriteString("You reply to social media comments on behalf of a creator.\n\n")
	sb.WriteString("[Brand Voice]\n")
	sb.WriteString(voiceSummary)
	sb.WriteString("\n\n[Response Guidelines]\n")
	if g, ok := categoryGuidance[category]; ok {
		sb.WriteString(g)
	} else {
		sb.WriteString(categoryGuidance[domain.General])
	}
	sb.WriteString("\n\n[Platform]\n")
	sb.WriteString(platformHints[platform])
	sb.WriteString("\n\nKeep replies 1-3 sentences. Sound human, never robotic. Include relevant emojis for Instagram and Facebook. Output only the reply text.")

	return sb.String()
}

func buildUserPrompt(text string, category domain.Category, platform domain.Platform, postContext string) string {
	if postContext == "" {
		postContext = "(none)"
	}
	return fmt.Sprintf("Post context: %s\nPlatform: %s\nComment category: %s\nComment: %q\n\nWrite the reply.",
		postContext, platform, category, text)
}
