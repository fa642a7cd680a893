package sdk

import (
	"errors"
	"sort"
	"sync"
	"time"

	pkgtypes "github.com/bhandras/huddle/pkg/types"
	"github.com/bhandras/huddle/shared/wire"
)

// DefaultSubmitTimeout is how long a submission may stay unresolved before it
// is marked failed.
const DefaultSubmitTimeout = 10 * time.Second

// SubmitStatus is the lifecycle state of an optimistic message.
type SubmitStatus string

const (
	StatusPending   SubmitStatus = "pending"
	StatusConfirmed SubmitStatus = "confirmed"
	StatusFailed    SubmitStatus = "failed"
)

var (
	// ErrUnknownKey is returned for an idempotency key the reconciler never
	// issued.
	ErrUnknownKey = errors.New("unknown idempotency key")
	// ErrNotFailed is returned when retrying a submission that has not failed.
	ErrNotFailed = errors.New("submission has not failed")
)

// OptimisticMessage is the local placeholder for a message that has been
// submitted but not yet acknowledged.
type OptimisticMessage struct {
	IdempotencyKey string
	RoomID         string
	Content        string
	Kind           string
	ReplyToID      *string
	Attachments    []wire.Attachment
	Status         SubmitStatus
	// Error is the server or timeout reason once Status is failed.
	Error string
	// Message is the canonical message once confirmed.
	Message *wire.MessageInfo
	// RetriedAs is the key of the submission that replaced this failed one.
	RetriedAs   string
	SubmittedAt time.Time
}

// Payload returns the send_message payload for this submission.
func (m OptimisticMessage) Payload() wire.SendMessagePayload {
	return wire.SendMessagePayload{
		RoomID:         m.RoomID,
		Content:        m.Content,
		Kind:           m.Kind,
		ReplyToID:      m.ReplyToID,
		Attachments:    m.Attachments,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// StreamItem is one visible entry of a room stream: either a canonical
// message or a pending placeholder.
type StreamItem struct {
	Message     wire.MessageInfo
	Pending     bool
	Placeholder *OptimisticMessage
}

// Reconciler tracks optimistic submissions and merges server events into
// per-room message streams. Canonical messages are keyed by id so a message
// is never shown twice, whichever path delivered it first.
type Reconciler struct {
	timeout time.Duration
	now     func() time.Time
	newKey  func() string

	mu sync.Mutex
	// self is the local subject id. Broadcasts only confirm submissions
	// once it is known.
	self    string
	pending map[string]*OptimisticMessage
	rooms   map[string]map[string]wire.MessageInfo
}

// NewReconciler creates a reconciler. A zero timeout uses
// DefaultSubmitTimeout.
func NewReconciler(timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	return &Reconciler{
		timeout: timeout,
		now:     time.Now,
		newKey:  pkgtypes.NewIdempotencyKey,
		pending: make(map[string]*OptimisticMessage),
		rooms:   make(map[string]map[string]wire.MessageInfo),
	}
}

// Submit records a new pending submission with a fresh idempotency key.
func (r *Reconciler) Submit(roomID, content, kind string, replyToID *string, attachments []wire.Attachment) OptimisticMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &OptimisticMessage{
		IdempotencyKey: r.newKey(),
		RoomID:         roomID,
		Content:        content,
		Kind:           kind,
		ReplyToID:      replyToID,
		Attachments:    attachments,
		Status:         StatusPending,
		SubmittedAt:    r.now(),
	}
	r.pending[m.IdempotencyKey] = m
	return *m
}

// Retry re-submits a failed message under a new idempotency key. The old key
// stays known so a late confirmation for it is still recognised.
func (r *Reconciler) Retry(key string) (OptimisticMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.pending[key]
	if !ok {
		return OptimisticMessage{}, ErrUnknownKey
	}
	if old.Status != StatusFailed || old.RetriedAs != "" {
		return OptimisticMessage{}, ErrNotFailed
	}

	m := &OptimisticMessage{
		IdempotencyKey: r.newKey(),
		RoomID:         old.RoomID,
		Content:        old.Content,
		Kind:           old.Kind,
		ReplyToID:      old.ReplyToID,
		Attachments:    old.Attachments,
		Status:         StatusPending,
		SubmittedAt:    r.now(),
	}
	r.pending[m.IdempotencyKey] = m
	old.RetriedAs = m.IdempotencyKey
	return *m, nil
}

// Get returns the submission for key.
func (r *Reconciler) Get(key string) (OptimisticMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pending[key]
	if !ok {
		return OptimisticMessage{}, false
	}
	return *m, true
}

// SetSelf sets the local subject id.
func (r *Reconciler) SetSelf(subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = subjectID
}

// Self returns the local subject id, empty until known.
func (r *Reconciler) Self() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

// Confirm merges a message observed on the room stream. It confirms the
// submission with the same idempotency key only when the message was sent by
// self; keys are scoped per sender, so another member's message may carry
// the same key. Confirmations for failed submissions are accepted too.
func (r *Reconciler) Confirm(msg wire.MessageInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self != "" && msg.SenderID == r.self {
		r.confirmLocked(msg.IdempotencyKey, msg)
	}
	r.upsertLocked(msg)
}

// ConfirmSent accepts msg as the server's ACK for the submission key. The
// ACK answers our own request, so its sender also identifies self when that
// is not known yet.
func (r *Reconciler) ConfirmSent(key string, msg wire.MessageInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self == "" {
		r.self = msg.SenderID
	}
	if msg.IdempotencyKey == key && msg.SenderID == r.self {
		r.confirmLocked(key, msg)
	}
	r.upsertLocked(msg)
}

func (r *Reconciler) confirmLocked(key string, msg wire.MessageInfo) {
	if key == "" {
		return
	}
	m, ok := r.pending[key]
	if !ok || m.RoomID != msg.RoomID {
		return
	}
	m.Status = StatusConfirmed
	m.Error = ""
	canonical := msg
	m.Message = &canonical
}

// Fail marks a pending submission failed. Confirmed submissions are final.
func (r *Reconciler) Fail(key, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pending[key]
	if !ok || m.Status != StatusPending {
		return false
	}
	m.Status = StatusFailed
	m.Error = reason
	return true
}

// Expire fails every submission pending for longer than the timeout and
// returns their keys.
func (r *Reconciler) Expire(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []string
	for key, m := range r.pending {
		if m.Status == StatusPending && now.Sub(m.SubmittedAt) >= r.timeout {
			m.Status = StatusFailed
			m.Error = "timed out waiting for the server"
			expired = append(expired, key)
		}
	}
	sort.Strings(expired)
	return expired
}

// HandleNewMessage merges a new_message broadcast.
func (r *Reconciler) HandleNewMessage(ev wire.MessageEvent) {
	r.Confirm(ev.Message)
}

// HandleEdited merges a message_edited broadcast.
func (r *Reconciler) HandleEdited(ev wire.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(ev.Message)
}

// HandleDeleted drops a tombstoned message from its room stream.
func (r *Reconciler) HandleDeleted(ev wire.MessageDeletedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[ev.RoomID]; ok {
		delete(room, ev.MessageID)
	}
}

// HandleReactionAdded applies a reaction delta.
func (r *Reconciler) HandleReactionAdded(ev wire.ReactionAddedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.rooms[ev.RoomID][ev.MessageID]
	if !ok {
		return
	}
	for _, existing := range msg.Reactions {
		if existing.UserID == ev.Reaction.UserID && existing.Emoji == ev.Reaction.Emoji {
			return
		}
	}
	msg.Reactions = append(append([]wire.Reaction(nil), msg.Reactions...), ev.Reaction)
	r.rooms[ev.RoomID][ev.MessageID] = msg
}

// HandleReactionRemoved applies a reaction removal delta.
func (r *Reconciler) HandleReactionRemoved(ev wire.ReactionRemovedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.rooms[ev.RoomID][ev.MessageID]
	if !ok {
		return
	}
	kept := make([]wire.Reaction, 0, len(msg.Reactions))
	for _, existing := range msg.Reactions {
		if existing.UserID == ev.UserID && existing.Emoji == ev.Emoji {
			continue
		}
		kept = append(kept, existing)
	}
	msg.Reactions = kept
	r.rooms[ev.RoomID][ev.MessageID] = msg
}

// HandleError marks the submission an error event refers to as failed.
func (r *Reconciler) HandleError(ev wire.ErrorPayload) bool {
	if ev.IdempotencyKey == "" {
		return false
	}
	return r.Fail(ev.IdempotencyKey, ev.Message)
}

// Load seeds a room stream from history.
func (r *Reconciler) Load(roomID string, messages []wire.MessageInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range messages {
		if msg.RoomID == roomID && !msg.IsDeleted {
			r.upsertLocked(msg)
		}
	}
}

func (r *Reconciler) upsertLocked(msg wire.MessageInfo) {
	if msg.IsDeleted {
		return
	}
	room, ok := r.rooms[msg.RoomID]
	if !ok {
		room = make(map[string]wire.MessageInfo)
		r.rooms[msg.RoomID] = room
	}
	room[msg.ID] = msg
}

// Stream returns the visible stream of roomID: canonical messages in
// creation order followed by still pending placeholders. Failed placeholders
// are not part of the stream.
func (r *Reconciler) Stream(roomID string) []StreamItem {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]wire.MessageInfo, 0, len(r.rooms[roomID]))
	for _, msg := range r.rooms[roomID] {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})

	items := make([]StreamItem, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, StreamItem{Message: msg})
	}

	var placeholders []*OptimisticMessage
	for _, m := range r.pending {
		if m.RoomID == roomID && m.Status == StatusPending {
			placeholders = append(placeholders, m)
		}
	}
	sort.Slice(placeholders, func(i, j int) bool {
		if !placeholders[i].SubmittedAt.Equal(placeholders[j].SubmittedAt) {
			return placeholders[i].SubmittedAt.Before(placeholders[j].SubmittedAt)
		}
		return placeholders[i].IdempotencyKey < placeholders[j].IdempotencyKey
	})
	for _, m := range placeholders {
		cp := *m
		items = append(items, StreamItem{
			Message: wire.MessageInfo{
				RoomID:         cp.RoomID,
				Content:        cp.Content,
				Kind:           cp.Kind,
				IdempotencyKey: cp.IdempotencyKey,
			},
			Pending:     true,
			Placeholder: &cp,
		})
	}
	return items
}

// Forget drops a resolved submission. Pending submissions are kept.
func (r *Reconciler) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.pending[key]; ok && m.Status != StatusPending {
		delete(r.pending, key)
	}
}

// Failed returns the failed submissions of roomID that have not been retried,
// oldest first.
func (r *Reconciler) Failed(roomID string) []OptimisticMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OptimisticMessage
	for _, m := range r.pending {
		if m.RoomID == roomID && m.Status == StatusFailed && m.RetriedAs == "" {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}
