package models

import (
	"encoding/json"
	"time"
)

// Event names multiplexed over a websocket connection.
const (
	EventMessageSend      = "message:send"
	EventMessageNew       = "message:new"
	EventMessageDelivered = "message:delivered"
	EventMessageRead      = "message:read"
	EventUnreadUpdated    = "conversation:unread-updated"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventUserStatus       = "user:status"
	EventError            = "error"
	EventAck              = "ack"
)

// Frame is a single websocket message. A client frame with Ack > 0 is answered
// with an "ack" frame carrying the same Ack value.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   int64           `json:"ack,omitempty"`
}

// AckPayload answers a client request.
type AckPayload struct {
	Error   string          `json:"error,omitempty"`
	Message *MessagePayload `json:"message,omitempty"`
}

// SendRequest is the payload of message:send.
type SendRequest struct {
	ConversationID  string `json:"conversationId"`
	Text            string `json:"text,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// DeliveredRequest is the payload of a client message:delivered.
type DeliveredRequest struct {
	MessageID string `json:"messageId"`
}

// ReadRequest is the payload of a client message:read.
type ReadRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// TypingRequest is the payload of typing:start and typing:stop.
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
}

type DeliveredEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type ReadEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type UnreadUpdatedEvent struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

type TypingStartEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
}

type TypingStopEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type UserStatusEvent struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
