// Package msggw provides a client for an HTTP customer message gateway.
//
// The gateway delivers short text messages (SMS or chat) to customers. The
// wheel uses it to send a prize coupon link to a customer who left a phone
// number.
//
// # Authentication
//
// All API requests are authenticated using:
//   - API Key: Sent in the x-api-key header
//   - HMAC Signature: SHA256 hash of the request body, sent in x-api-hmac header
//
// # Basic Usage
//
//	client := msggw.NewClient(&msggw.ClientConfig{
//	    BaseURL:   "https://gateway.example.com",
//	    APIKey:    "your-api-key",
//	    APISecret: "your-api-secret",
//	})
//
//	result, err := client.SendMessage(ctx, &msggw.SendMessageRequest{
//	    Recipient: "+15551234567",
//	    Text:      "You won a free latte! Code JOE-7KQ2M9XD",
//	    Reference: couponID,
//	})
//
// # Error Handling
//
// Gateway errors are returned as *APIError:
//
//	if apiErr, ok := err.(*msggw.APIError); ok {
//	    switch apiErr.Code {
//	    case msggw.ErrInvalidRecipient:
//	        // drop the message
//	    }
//	}
package msggw
