package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageChat         MessageType = "chat"
	MessagePrivate      MessageType = "private"
	MessageSystem       MessageType = "system"
	MessageAnnouncement MessageType = "announcement"
	MessageGift         MessageType = "gift"
)

type Message struct {
	ID          string      `json:"id"`
	SenderID    UserID      `json:"senderId"`
	SenderName  string      `json:"senderName,omitempty"`
	RecipientID UserID      `json:"recipientId,omitempty"`
	Text        string      `json:"text"`
	Type        MessageType `json:"type"`
	Gift        *Gift       `json:"gift,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

type Gift struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

func NewMessage(t MessageType, sender *Identity, text string, now time.Time) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Text:      text,
		Type:      t,
		Timestamp: now.UTC(),
	}
	if sender != nil {
		msg.SenderID = sender.ID
		msg.SenderName = sender.Username
	}
	return msg
}

// MarshalBinary lets store drivers push messages as values directly.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}
