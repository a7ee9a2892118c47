package diary

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// ITEM KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind identifies a polled item kind.
type Kind string

const (
	KindHomework Kind = "homework"
	KindMark     Kind = "mark"
	KindMessage  Kind = "message"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLED ITEMS
// ══════════════════════════════════════════════════════════════════════════════

// Attachment is a file attached to a homework.
type Attachment struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// Homework is a homework assignment taken from a diary lesson.
type Homework struct {
	ID          string       `json:"id"`
	Lesson      string       `json:"lesson"`
	Date        string       `json:"date"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

// Key returns the deduplication identity.
func (h Homework) Key() string {
	return h.ID
}

// Mark is a grade. Field order follows the service's diary period listing:
// value, weight, date, lesson id, work name, subject name.
type Mark struct {
	Value    string  `json:"value"`
	Weight   float64 `json:"weight"`
	Date     string  `json:"date"`
	LessonID string  `json:"lesson_id"`
	WorkName string  `json:"work_name"`
	Subject  string  `json:"subject"`
}

// Key returns the deduplication identity. It is the lesson id, not the mark:
// a second mark on the same lesson is not detected as new.
func (m Mark) Key() string {
	return m.LessonID
}

// Message is a chat message.
type Message struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	Sender   string    `json:"sender"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// Key returns the deduplication identity.
func (m Message) Key() string {
	return m.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// READ-ONLY ITEMS
// ══════════════════════════════════════════════════════════════════════════════

// Thread is a chat conversation.
type Thread struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	NewCount int    `json:"new_count"`
}

// Member is a participant of a chat thread.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Group is a group of users visible to the account.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Unit is a school subject.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lesson is a diary entry for a single lesson.
type Lesson struct {
	ID       string    `json:"id"`
	Unit     string    `json:"unit"`
	Date     time.Time `json:"date"`
	Homework *Homework `json:"homework,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Keyed is implemented by Homework, Mark and Message.
type Keyed interface {
	Key() string
}

// Keys returns the identities of items in order.
func Keys[T Keyed](items []T) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Key())
	}
	return ids
}
