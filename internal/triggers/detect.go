// Package triggers maps phrases found in a comment and its reply to CRM
// workflow tags.
package triggers

import (
	"strings"

	"github.com/kalambet/replyd/internal/domain"
)

// Tag names.
const (
	Interested     = "interested"
	PurchaseIntent = "purchase_intent"
	Booking        = "booking"
	Support        = "support"
	Praise         = "praise"
)

// Workflows maps every tag to the CRM workflow it starts. The table is fixed;
// only the phrases that select a tag can be overridden.
var Workflows = map[string]string{
	Interested:     "lead_nurture_sequence",
	PurchaseIntent: "sales_follow_up",
	Booking:        "appointment_booking",
	Support:        "customer_support",
	Praise:         "testimonial_request",
}

// DefaultPhrases are the built-in phrase lists per tag.
func DefaultPhrases() map[string][]string {
	return map[string][]string{
		Interested:     {"interested", "want to know more", "tell me more", "how can i", "sign me up"},
		PurchaseIntent: {"price", "cost", "buy", "purchase", "order", "how much"},
		Booking:        {"appointment", "call", "consultation", "meeting", "schedule"},
		Support:        {"help", "problem", "issue", "not working", "error"},
		Praise:         {"amazing", "great", "awesome", "love", "fantastic", "incredible"},
	}
}

// Detector matches phrase lists against comment and reply text.
type Detector struct {
	phrases map[string][]string
}

// NewDetector builds a Detector. Tags present in overrides replace the default
// phrase list for that tag; unknown tags are ignored.
func NewDetector(overrides map[string][]string) *Detector {
	phrases := DefaultPhrases()
	for tag, list := range overrides {
		if _, known := Workflows[tag]; !known || len(list) == 0 {
			continue
		}
		lowered := make([]string, 0, len(list))
		for _, p := range list {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				lowered = append(lowered, p)
			}
		}
		phrases[tag] = lowered
	}
	return &Detector{phrases: phrases}
}

// Detect returns the tags whose phrases appear anywhere in the comment or
// reply, together with their workflows.
func (d *Detector) Detect(commentText, replyText string) domain.TriggerRecord {
	combined := strings.ToLower(commentText + " " + replyText)

	var tags, workflows []string
	for tag, list := range d.phrases {
		for _, p := range list {
			if strings.Contains(combined, p) {
				tags = append(tags, tag)
				workflows = append(workflows, Workflows[tag])
				break
			}
		}
	}
	return domain.NewTriggerRecord(tags, workflows)
}

var defaultDetector = NewDetector(nil)

// Detect runs the default phrase lists.
func Detect(commentText, replyText string) domain.TriggerRecord {
	return defaultDetector.Detect(commentText, replyText)
}
