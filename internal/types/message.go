package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// StringMessage is the wire form of a Message with its payload serialized.
type StringMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ID          string    `json:"id"`
	MessageType string    `json:"message_type"`
	Message     string    `json:"message"`
}

// Serialize message payload to json for the operator link
func (message *Message) ToJsonMessage() (StringMessage, error) {
	b, err := json.Marshal(message.Message)
	if err != nil {
		return StringMessage{}, err
	}

	return StringMessage{
		Timestamp:   message.Timestamp,
		From:        message.From,
		To:          message.To,
		ID:          message.ID,
		MessageType: message.MessageType,
		Message:     string(b),
	}, nil
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}
