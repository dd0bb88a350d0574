// Package domain holds the canonical comment and reply shapes every platform
// adapter normalizes into.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Platform identifies a social network.
type Platform string

const (
	YouTube   Platform = "youtube"
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
	LinkedIn  Platform = "linkedin"
	Twitter   Platform = "twitter"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{YouTube, Facebook, Instagram, LinkedIn, Twitter}

// ParsePlatform converts a raw string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Category is the classification assigned to a comment.
type Category string

const (
	Lead      Category = "lead"
	Praise    Category = "praise"
	Spam      Category = "spam"
	Question  Category = "question"
	Complaint Category = "complaint"
	General   Category = "general"
)

// Categories lists the full taxonomy.
var Categories = []Category{Lead, Praise, Spam, Question, Complaint, General}

// ParseCategory converts a raw string into a Category, ignoring case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// CommentKey is the platform-scoped unique identity of a comment.
type CommentKey struct {
	Platform  Platform `json:"platform"`
	CommentID string   `json:"comment_id"`
}

func (k CommentKey) String() string {
	return string(k.Platform) + ":" + k.CommentID
}

// CommentStatus tracks how far a comment got through the pipeline.
type CommentStatus string

const (
	CommentPending   CommentStatus = "pending"
	CommentProcessed CommentStatus = "processed"
	CommentError     CommentStatus = "error"
)

// Comment is the platform-normalized comment record.
type Comment struct {
	Platform    Platform  `json:"platform"`
	ID          string    `json:"comment_id"`
	Text        string    `json:"text"`
	AuthorName  string    `json:"author_name"`
	AuthorID    string    `json:"author_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ParentID    string    `json:"parent_id,omitempty"`
	PostID      string    `json:"post_id,omitempty"`
	PostContext string    `json:"post_context,omitempty"`
	LikeCount   int       `json:"like_count"`

	Status         CommentStatus    `json:"status"`
	Classification *Classification  `json:"classification,omitempty"`
	Sentiment      *Sentiment       `json:"sentiment,omitempty"`
	Error          *ProcessingError `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Key returns the comment's unique identity.
func (c Comment) Key() CommentKey {
	return CommentKey{Platform: c.Platform, CommentID: c.ID}
}

// Validate reports missing fields that make a comment unprocessable.
func (c Comment) Validate() error {
	var missing []string
	if c.Platform == "" {
		missing = append(missing, "platform")
	}
	if c.ID == "" {
		missing = append(missing, "comment_id")
	}
	if strings.TrimSpace(c.Text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("comment missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ProcessingError is a structured failure attached to a comment instead of
// aborting the batch.
type ProcessingError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Classification is produced once per comment.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	RuleBased  bool     `json:"rule_based"`
	Error      string   `json:"error,omitempty"`
}

// Sentiment is the tone analysis forwarded to the CRM.
type Sentiment struct {
	Sentiment  string   `json:"sentiment"`
	Confidence float64  `json:"confidence"`
	Emotions   []string `json:"emotions"`
	Urgency    string   `json:"urgency"`
	Error      string   `json:"error,omitempty"`
}

// NeutralSentiment is used whenever sentiment analysis fails.
func NeutralSentiment() Sentiment {
	return Sentiment{Sentiment: "neutral", Confidence: 0.5, Emotions: []string{"unknown"}, Urgency: "low"}
}

// TriggerRecord is the deduplicated tag set and the workflows derived from it.
type TriggerRecord struct {
	Tags      []string `json:"tags"`
	Workflows []string `json:"workflows"`
}

// Empty reports whether no workflow would be triggered.
func (t TriggerRecord) Empty() bool { return len(t.Workflows) == 0 }

// HasWorkflow reports whether name is in the workflow set.
func (t TriggerRecord) HasWorkflow(name string) bool {
	for _, w := range t.Workflows {
		if w == name {
			return true
		}
	}
	return false
}

// NewTriggerRecord builds a record from possibly duplicated inputs.
func NewTriggerRecord(tags, workflows []string) TriggerRecord {
	return TriggerRecord{Tags: dedupSorted(tags), Workflows: dedupSorted(workflows)}
}

func dedupSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ReplyStatus is the disposition of a reply.
type ReplyStatus string

const (
	ReplyPending      ReplyStatus = "pending"
	ReplyAutoApproved ReplyStatus = "auto_approved"
	ReplyApproved     ReplyStatus = "approved"
	ReplyRejected     ReplyStatus = "rejected"
	ReplyPosted       ReplyStatus = "posted"
)

var transitions = map[ReplyStatus][]ReplyStatus{
	ReplyPending:      {ReplyAutoApproved, ReplyApproved, ReplyRejected},
	ReplyAutoApproved: {ReplyPosted, ReplyRejected},
	ReplyApproved:     {ReplyPosted, ReplyRejected},
}

// CanTransition reports whether a reply may move from one status to another.
func CanTransition(from, to ReplyStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PredecessorsOf returns every status that may move directly to target.
func PredecessorsOf(target ReplyStatus) []ReplyStatus {
	var out []ReplyStatus
	for _, from := range []ReplyStatus{ReplyPending, ReplyAutoApproved, ReplyApproved} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

// ReplySource records who wrote a reply.
type ReplySource string

const (
	SourceAI       ReplySource = "ai"
	SourceFallback ReplySource = "fallback"
	SourceOwner    ReplySource = "owner"
)

// Reply is a candidate response to a comment.
type Reply struct {
	ID            string        `json:"id"`
	Platform      Platform      `json:"platform"`
	CommentID     string        `json:"comment_id"`
	Text          string        `json:"text"`
	Triggers      TriggerRecord `json:"triggers"`
	NeedsApproval bool          `json:"needs_approval"`
	Status        ReplyStatus   `json:"status"`
	Source        ReplySource   `json:"source"`
	Category      Category      `json:"category"`
	Confidence    float64       `json:"confidence"`
	ExternalID    string        `json:"external_id,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	PostAttempts  int           `json:"post_attempts,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	PostedAt      *time.Time    `json:"posted_at,omitempty"`
}

// CommentKey returns the key of the comment this reply answers.
func (r Reply) CommentKey() CommentKey {
	return CommentKey{Platform: r.Platform, CommentID: r.CommentID}
}
