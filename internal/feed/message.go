package feed

import "github.com/guidedimage/guidedimage_server/internal/images"

type MessageType string

const (
	MessageTypeConnected   MessageType = "connected"
	MessageTypeImageStored MessageType = "image.stored"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

type IncomingMessage struct {
	Type MessageType `json:"type"`
}

type OutgoingMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
}

type ImageMessage struct {
	Type  MessageType   `json:"type"`
	Image *images.Image `json:"image"`
}
