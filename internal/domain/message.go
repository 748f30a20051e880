package domain

import "time"

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// ParseSenderType maps a wire sender type; anything unrecognized is treated
// as a customer message.
func ParseSenderType(s string) SenderType {
	switch SenderType(s) {
	case SenderAgent:
		return SenderAgent
	case SenderSystem:
		return SenderSystem
	default:
		return SenderCustomer
	}
}

// DefaultSenderName is used when a customer message carries no sender name.
const DefaultSenderName = "Customer"

// Message is a single chat line within a session.
type Message struct {
	ID            string     `json:"id,omitempty"` // empty for optimistic local messages
	SessionID     string     `json:"sessionId"`
	SenderID      string     `json:"senderId,omitempty"`
	SenderType    SenderType `json:"senderType"`
	SenderName    string     `json:"senderName,omitempty"`
	Body          string     `json:"body"`
	MessageType   string     `json:"messageType,omitempty"`
	AttachmentURL string     `json:"attachmentUrl,omitempty"`
	IsRead        bool       `json:"isRead,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// FromCustomer reports whether the message was sent by the customer.
func (m *Message) FromCustomer() bool {
	return m.SenderType == SenderCustomer
}
