package crm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/storage"
)

type workflowCall struct {
	name      string
	contactID string
	payload   map[string]string
}

type mockClient struct {
	mu          sync.Mutex
	upsertErr   error
	workflowErr map[string]error
	upserts     []Contact
	workflows   []workflowCall
	tags        [][]string
	nextID      string
}

func (m *mockClient) UpsertContact(_ context.Context, c Contact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, c)
	if m.upsertErr != nil {
		return "", m.upsertErr
	}
	if c.ID != "" {
		return c.ID, nil
	}
	if m.nextID != "" {
		return m.nextID, nil
	}
	return "contact-1", nil
}

func (m *mockClient) TriggerWorkflow(_ context.Context, name, contactID string, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = append(m.workflows, workflowCall{name: name, contactID: contactID, payload: payload})
	return m.workflowErr[name]
}

func (m *mockClient) AddTags(_ context.Context, _ string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags = append(m.tags, tags)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func leadEscalation() Escalation {
	return Escalation{
		Platform:    domain.YouTube,
		CommentID:   "c1",
		AuthorID:    "UC123",
		AuthorName:  "Dana",
		CommentText: "How much does the coaching program cost?",
		Category:    domain.Lead,
		Sentiment:   "positive",
		Tags:        []string{"interested", "purchase_intent"},
		Workflows:   []string{"lead_nurture", "sales_followup"},
	}
}

func TestEscalate_NoWorkflowsSkips(t *testing.T) {
	client := &mockClient{}
	e := NewEscalator(client, openTestStore(t))

	esc := leadEscalation()
	esc.Workflows = nil
	res := e.Escalate(context.Background(), esc)

	if !res.Skipped {
		t.Error("expected Skipped")
	}
	if len(client.upserts) != 0 {
		t.Errorf("upserts = %d, want 0", len(client.upserts))
	}
}

func TestEscalate_UpsertsAndTriggers(t *testing.T) {
	client := &mockClient{}
	store := openTestStore(t)
	e := NewEscalator(client, store)

	res := e.Escalate(context.Background(), leadEscalation())
	if res.Err != nil {
		t.Fatalf("Escalate error: %v", res.Err)
	}
	if res.ContactID != "contact-1" {
		t.Errorf("ContactID = %q, want contact-1", res.ContactID)
	}

	if len(client.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(client.upserts))
	}
	c := client.upserts[0]
	if c.Name != "Dana" || c.ExternalID != "UC123" || c.Platform != "youtube" {
		t.Errorf("contact = %+v", c)
	}
	if c.CustomFields["comment_sentiment"] != "positive" {
		t.Errorf("comment_sentiment = %q", c.CustomFields["comment_sentiment"])
	}
	if c.CustomFields["comment_type"] != "lead" {
		t.Errorf("comment_type = %q", c.CustomFields["comment_type"])
	}
	if c.CustomFields["engagement_platform"] != "youtube" {
		t.Errorf("engagement_platform = %q", c.CustomFields["engagement_platform"])
	}
	if !strings.HasPrefix(c.Note, "Social media engagement: ") {
		t.Errorf("Note = %q", c.Note)
	}

	if len(client.workflows) != 2 {
		t.Fatalf("workflow calls = %d, want 2", len(client.workflows))
	}
	for _, call := range client.workflows {
		if call.contactID != "contact-1" {
			t.Errorf("workflow %s contact = %q", call.name, call.contactID)
		}
		if call.payload["comment_text"] != "How much does the coaching program cost?" {
			t.Errorf("payload comment_text = %q", call.payload["comment_text"])
		}
		if call.payload["platform"] != "youtube" || call.payload["sentiment"] != "positive" {
			t.Errorf("payload = %v", call.payload)
		}
	}

	id, err := store.ContactID(domain.YouTube, "UC123")
	if err != nil {
		t.Fatalf("ContactID: %v", err)
	}
	if id != "contact-1" {
		t.Errorf("stored contact = %q, want contact-1", id)
	}
}

func TestEscalate_UpsertFailureSkipsWorkflows(t *testing.T) {
	client := &mockClient{upsertErr: errors.New("crm down")}
	e := NewEscalator(client, openTestStore(t))

	res := e.Escalate(context.Background(), leadEscalation())
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if len(client.workflows) != 0 {
		t.Errorf("workflow calls = %d, want 0", len(client.workflows))
	}
}

func TestEscalate_WorkflowFailureRecorded(t *testing.T) {
	client := &mockClient{workflowErr: map[string]error{"lead_nurture": errors.New("boom")}}
	e := NewEscalator(client, openTestStore(t))

	res := e.Escalate(context.Background(), leadEscalation())
	if res.Err != nil {
		t.Fatalf("Escalate error: %v", res.Err)
	}
	if len(res.Workflows) != 2 {
		t.Fatalf("workflow results = %d, want 2", len(res.Workflows))
	}
	got := map[string]string{}
	for _, wr := range res.Workflows {
		got[wr.Name] = wr.Error
	}
	if got["lead_nurture"] != "boom" {
		t.Errorf("lead_nurture error = %q, want boom", got["lead_nurture"])
	}
	if got["sales_followup"] != "" {
		t.Errorf("sales_followup error = %q, want empty", got["sales_followup"])
	}
}

func TestEscalate_ReusesStoredContact(t *testing.T) {
	client := &mockClient{}
	store := openTestStore(t)
	if err := store.PutContactID(domain.YouTube, "UC123", "existing-9"); err != nil {
		t.Fatalf("PutContactID: %v", err)
	}
	e := NewEscalator(client, store)

	res := e.Escalate(context.Background(), leadEscalation())
	if res.Err != nil {
		t.Fatalf("Escalate error: %v", res.Err)
	}
	if !res.Reused || res.ContactID != "existing-9" {
		t.Errorf("result = %+v, want reused existing-9", res)
	}
	if client.upserts[0].ID != "existing-9" {
		t.Errorf("upsert ID = %q, want existing-9", client.upserts[0].ID)
	}
	if len(client.tags) != 1 {
		t.Errorf("AddTags calls = %d, want 1", len(client.tags))
	}
}

func TestEscalate_UnknownAuthorName(t *testing.T) {
	client := &mockClient{}
	e := NewEscalator(client, openTestStore(t))

	esc := leadEscalation()
	esc.AuthorName = ""
	e.Escalate(context.Background(), esc)

	if client.upserts[0].Name != "Unknown" {
		t.Errorf("Name = %q, want Unknown", client.upserts[0].Name)
	}
}

func TestLogClient_DeterministicID(t *testing.T) {
	l := NewLogClient()
	c := Contact{Platform: "youtube", ExternalID: "UC123"}
	a, _ := l.UpsertContact(context.Background(), c)
	b, _ := l.UpsertContact(context.Background(), c)
	if a != b {
		t.Errorf("ids differ: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "mock_contact_") {
		t.Errorf("id = %q", a)
	}
	other, _ := l.UpsertContact(context.Background(), Contact{Platform: "twitter", ExternalID: "UC123"})
	if other == a {
		t.Error("different authors share an id")
	}
}
