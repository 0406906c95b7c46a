package msggw

import "time"

// Error codes returned by the gateway
const (
	ErrUnexpectedError  = "UNEXPECTED_ERROR"
	ErrNotAuthorized    = "NOT_AUTHORIZED"
	ErrInvalidRecipient = "INVALID_RECIPIENT"
	ErrRateLimited      = "RATE_LIMITED"
	ErrDuplicate        = "DUPLICATE_REFERENCE"
)

// Channel selects how a message is delivered
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// APIError represents an error response from the gateway
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Response wraps the gateway response with either result or error
type Response[T any] struct {
	Result *T        `json:"result,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// ClientConfig holds the client configuration
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	SenderID  string
	Timeout   time.Duration
	// RetryCount is the number of attempts for transport failures
	RetryCount int
}

// SendMessageRequest is the request to send one message
type SendMessageRequest struct {
	SenderID  string  `json:"senderId,omitempty"`
	Recipient string  `json:"recipient"`
	Channel   Channel `json:"channel,omitempty"`
	Text      string  `json:"text"`
	// Reference lets the gateway drop duplicates of the same message
	Reference string `json:"reference,omitempty"`
}

// SendMessageResult is the gateway acknowledgement
type SendMessageResult struct {
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	QueuedAt  time.Time `json:"queuedAt"`
}

// MessageStatusRequest asks for the delivery status of a message
type MessageStatusRequest struct {
	MessageID string `json:"messageId"`
}

// MessageStatusResult is the delivery status of a message
type MessageStatusResult struct {
	MessageID   string     `json:"messageId"`
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}
