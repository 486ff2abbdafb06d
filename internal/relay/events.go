package relay

import "fmt"

// Kind names one directed event the relay knows how to send. The source
// system had one near-identical handler per kind; here a kind is a row in
// the definitions table and every kind flows through the same Relay path.
type Kind string

const (
	KindMessage       Kind = "message"
	KindRequest       Kind = "request"
	KindRequestAck    Kind = "request-ack"
	KindRequestAccept Kind = "request-accept"
	KindRequestReject Kind = "request-reject"
	KindRequestCancel Kind = "request-cancel"
	KindDelete        Kind = "delete"
)

type definition struct {
	event    string
	validate func(Request) error
	payload  func(senderName string, req Request) map[string]any
}

func noValidation(Request) error { return nil }

func fromOnly(senderName string, _ Request) map[string]any {
	return map[string]any{"fromUserName": senderName}
}

var definitions = map[Kind]definition{
	KindMessage: {
		event: "chat-message",
		validate: func(req Request) error {
			if req.Message == "" {
				return fmt.Errorf("%w: message", ErrMissingField)
			}
			return nil
		},
		payload: func(senderName string, req Request) map[string]any {
			return map[string]any{"fromUserName": senderName, "message": req.Message}
		},
	},
	KindRequest: {
		event:    "chat-request",
		validate: noValidation,
		payload:  fromOnly,
	},
	KindRequestAck: {
		event:    "chat-request-ack",
		validate: noValidation,
		payload:  fromOnly,
	},
	KindRequestAccept: {
		event:    "chat-request-accept",
		validate: noValidation,
		payload: func(senderName string, req Request) map[string]any {
			return map[string]any{"fromUserName": senderName, "encryptionData": req.EncryptionData}
		},
	},
	KindRequestReject: {
		event:    "chat-request-reject",
		validate: noValidation,
		payload: func(senderName string, req Request) map[string]any {
			return map[string]any{"fromUserName": senderName, "reason": req.Reason}
		},
	},
	KindRequestCancel: {
		event:    "chat-request-cancel",
		validate: noValidation,
		payload:  fromOnly,
	},
	KindDelete: {
		event:    "chat-delete",
		validate: noValidation,
		payload:  fromOnly,
	},
}
