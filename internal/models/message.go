package models

import (
	"strings"
	"time"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeAudio    MessageType = "audio"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeDocument, MessageTypeAudio:
		return true
	}
	return false
}

// MessageTypeForMIME classifies a MIME type into a media message type.
func MessageTypeForMIME(mimeType string) MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return MessageTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MessageTypeAudio
	default:
		return MessageTypeDocument
	}
}

// Message is a stored chat message. Only DeliveredAt and ReadAt change after
// creation.
type Message struct {
	ID              string      `db:"id"`
	ConversationID  string      `db:"conversation_id"`
	SenderID        string      `db:"sender_id"`
	SenderUsername  string      `db:"sender_username"`
	ClientMessageID string      `db:"client_message_id"`
	Text            string      `db:"text"`
	MessageType     MessageType `db:"message_type"`
	FileURL         string      `db:"file_url"`
	FileName        string      `db:"file_name"`
	FileSize        int64       `db:"file_size"`
	MimeType        string      `db:"mime_type"`
	ThumbnailURL    string      `db:"thumbnail_url"`
	CreatedAt       time.Time   `db:"created_at"`
	DeliveredAt     *time.Time  `db:"delivered_at"`
	ReadAt          *time.Time  `db:"read_at"`
}

func (m Message) Delivered() bool { return m.DeliveredAt != nil }

func (m Message) Read() bool { return m.ReadAt != nil }

// Payload converts the message into its wire representation.
func (m Message) Payload() MessagePayload {
	return MessagePayload{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		SenderUsername:  m.SenderUsername,
		ClientMessageID: m.ClientMessageID,
		Text:            m.Text,
		MessageType:     m.MessageType,
		FileURL:         m.FileURL,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		MimeType:        m.MimeType,
		ThumbnailURL:    m.ThumbnailURL,
		Delivered:       m.Delivered(),
		DeliveredAt:     m.DeliveredAt,
		Read:            m.Read(),
		ReadAt:          m.ReadAt,
		CreatedAt:       m.CreatedAt,
	}
}

// MessagePayload is the JSON shape of a message sent to clients.
type MessagePayload struct {
	ID              string      `json:"id"`
	ConversationID  string      `json:"conversationId"`
	SenderID        string      `json:"senderId"`
	SenderUsername  string      `json:"senderUsername,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
	Text            string      `json:"text"`
	MessageType     MessageType `json:"messageType"`
	FileURL         string      `json:"fileUrl,omitempty"`
	FileName        string      `json:"fileName,omitempty"`
	FileSize        int64       `json:"fileSize,omitempty"`
	MimeType        string      `json:"mimeType,omitempty"`
	ThumbnailURL    string      `json:"thumbnailUrl,omitempty"`
	Delivered       bool        `json:"delivered"`
	DeliveredAt     *time.Time  `json:"deliveredAt"`
	Read            bool        `json:"read"`
	ReadAt          *time.Time  `json:"readAt"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// PreviewText renders a short conversation-list preview for a message.
func PreviewText(m Message) string {
	switch m.MessageType {
	case MessageTypeImage:
		return "📷 Photo"
	case MessageTypeVideo:
		return "🎥 Video"
	case MessageTypeAudio:
		return "🎵 Audio"
	case MessageTypeDocument:
		if m.FileName != "" {
			return "📄 " + m.FileName
		}
		return "📄 Document"
	default:
		return m.Text
	}
}
