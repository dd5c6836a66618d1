// Package events implements the SDK's broadcast event bus: a bounded
// multi-producer, multi-consumer channel carrying the tagged union of
// event variants below, plus filtered per-subscriber subscription.
package events

import (
	"sync"

	"privchat-sdk/internal/model"
	"privchat-sdk/internal/transport"
)

// Type tags a Event's concrete payload.
type Type string

const (
	TypeMessageStatusChanged  Type = "message_status_changed"
	TypeReadReceiptReceived   Type = "read_receipt_received"
	TypeMessageRevoked        Type = "message_revoked"
	TypeMessageEdited         Type = "message_edited"
	TypeTypingStarted         Type = "typing_started"
	TypeTypingStopped         Type = "typing_stopped"
	TypeTypingIndicator       Type = "typing_indicator"
	TypeReactionAdded         Type = "reaction_added"
	TypeReactionRemoved       Type = "reaction_removed"
	TypeUserPresenceChanged   Type = "user_presence_changed"
	TypeUnreadCountChanged    Type = "unread_count_changed"
	TypeConnectionState       Type = "connection_state_changed"
	TypeMessageReceived       Type = "message_received"
	TypeMessageSent           Type = "message_sent"
	TypeMessageSendFailed     Type = "message_send_failed"
	TypeSendStatusUpdate      Type = "send_status_update"
	TypeTimelineDiff          Type = "timeline_diff"
	TypeChannelListUpdate     Type = "channel_list_update"
)

// SendPhase is SendStatusUpdate's inner tag.
type SendPhase string

const (
	SendEnqueued SendPhase = "enqueued"
	SendSending  SendPhase = "sending"
	SendSent     SendPhase = "sent"
	SendRetrying SendPhase = "retrying"
	SendFailed   SendPhase = "failed"
)

// TimelineDiffKind is TimelineDiff's inner tag.
type TimelineDiffKind string

const (
	TimelineReset         TimelineDiffKind = "reset"
	TimelineAppend        TimelineDiffKind = "append"
	TimelineUpdateByItemID TimelineDiffKind = "update_by_item_id"
	TimelineRemoveByItemID TimelineDiffKind = "remove_by_item_id"
)

// ChannelListUpdateKind is ChannelListUpdate's inner tag.
type ChannelListUpdateKind string

const (
	ChannelListKindReset  ChannelListUpdateKind = "reset"
	ChannelListKindUpdate ChannelListUpdateKind = "update"
	ChannelListKindRemove ChannelListUpdateKind = "remove"
)

// Event is the envelope delivered to subscribers. Only the field matching
// Type is populated; the rest are zero values.
type Event struct {
	Type Type

	ChannelID   uint64
	ChannelType model.ChannelType
	UserID      uint64

	MessageStatusChanged *MessageStatusChanged
	ReadReceiptReceived  *ReadReceiptReceived
	MessageRevoked       *MessageRevoked
	MessageEdited        *MessageEdited
	Typing               *Typing
	Reaction             *Reaction
	UserPresenceChanged  *UserPresenceChanged
	UnreadCountChanged   *UnreadCountChanged
	ConnectionState      *ConnectionStateChanged
	MessageReceived      *MessageReceived
	MessageSent          *MessageSent
	MessageSendFailed    *MessageSendFailed
	SendStatusUpdate     *SendStatusUpdate
	TimelineDiff         *TimelineDiff
	ChannelListUpdate    *ChannelListUpdate
}

type MessageStatusChanged struct {
	LocalMessageID int64
	Status         model.MessageStatus
}

type ReadReceiptReceived struct {
	UpToPts uint64
	ByUID   uint64
}

type MessageRevoked struct {
	ServerMessageID uint64
	RevokedBy       uint64
}

type MessageEdited struct {
	ServerMessageID uint64
	NewContent      string
	EditedAt        int64
}

type Typing struct {
	FromUID uint64
}

type Reaction struct {
	ServerMessageID uint64
	UserID          uint64
	Emoji           string
}

type UserPresenceChanged struct {
	Online   bool
	LastSeen int64
}

type UnreadCountChanged struct {
	Count        int
	TotalUnread  int
}

type ConnectionStateChanged struct {
	State transport.ConnState
}

type MessageReceived struct {
	Message model.Message
}

type MessageSent struct {
	LocalMessageID  int64
	ServerMessageID uint64
	Pts             uint64
}

type MessageSendFailed struct {
	LocalMessageID int64
	Err            string
}

type SendStatusUpdate struct {
	LocalMessageID int64
	Phase          SendPhase
	Attempt        int
}

type TimelineDiff struct {
	Kind     TimelineDiffKind
	Messages []model.Message
	ItemID   int64
}

type ChannelListUpdate struct {
	Kind     ChannelListUpdateKind
	Channels []model.Channel
}

// Filter restricts a subscription to a subset of events. Nil/empty
// slices mean "no restriction on this dimension".
type Filter struct {
	EventTypes []Type
	ChannelIDs []uint64
	UserIDs    []uint64
}

func (f Filter) matches(e Event) bool {
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, e.Type) {
		return false
	}
	if len(f.ChannelIDs) > 0 && !containsUint64(f.ChannelIDs, e.ChannelID) {
		return false
	}
	if len(f.UserIDs) > 0 && !containsUint64(f.UserIDs, e.UserID) {
		return false
	}
	return true
}

func containsType(xs []Type, x Type) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsUint64(xs []uint64, x uint64) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// subscriber is one registered channel plus its optional filter.
type subscriber struct {
	id     uint64
	ch     chan Event
	filter Filter
}

// Bus is the broadcast event bus. Zero value is not usable; use New.
type Bus struct {
	capacity int

	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	listeners map[Type][]func(Event)
}

// New builds a Bus whose per-subscriber channels have the given capacity.
// A lagging subscriber that fills its channel silently drops further
// events rather than blocking the emitter.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		capacity:  capacity,
		subs:      make(map[uint64]*subscriber),
		listeners: make(map[Type][]func(Event)),
	}
}

// Subscribe registers a new filtered channel subscriber. Call the returned
// func to unsubscribe and release its channel.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{id: id, ch: make(chan Event, b.capacity), filter: filter}
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
}

// On registers a typed listener invoked synchronously, in emission order,
// on the emitter's goroutine, for every event of the given type.
func (b *Bus) On(t Type, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], fn)
}

// Emit delivers e to every matching filtered subscriber (non-blocking,
// drop-on-full) and then invokes every synchronous listener for e.Type.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// subscriber lagging beyond capacity: drop, non-fatal
		}
	}
	listeners := append([]func(Event){}, b.listeners[e.Type]...)
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}
}

// Close unsubscribes and closes every currently-registered subscriber
// channel. Safe to call once during SDK shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
