package client

import "errors"

// Class is the stable machine-readable category of a failed operation,
// distinct from its human-readable message.
type Class string

const (
	ClassInvalidInput        Class = "invalid_input"
	ClassNotFound            Class = "not_found"
	ClassRateLimited         Class = "rate_limited"
	ClassInvalidModel        Class = "invalid_model"
	ClassUpstreamUnavailable Class = "upstream_unavailable"
	ClassTimeout             Class = "timeout"
	ClassNetworkUnreachable  Class = "network_unreachable"
	ClassInternal            Class = "internal"
)

// Error is a classified failure from the transport or server. SessionID is
// set when the server created or touched a session before failing, so the
// caller can adopt the id and resend into the same conversation.
type Error struct {
	Class     Class
	Message   string
	SessionID string
}

func (e *Error) Error() string { return e.Message }

// ErrSendInFlight is returned when a send is submitted while another one
// for the active session has not settled yet.
var ErrSendInFlight = errors.New("a send is already in flight")

// displayMessage renders a classified error as the text of an in-transcript
// error turn.
func displayMessage(e *Error) string {
	switch e.Class {
	case ClassInvalidInput:
		return e.Message
	case ClassNotFound:
		return "This conversation no longer exists. Start a new chat."
	case ClassRateLimited:
		return "Too many requests right now. Please wait a moment and resend."
	case ClassInvalidModel:
		return "The selected model is not available. Pick another model and resend."
	case ClassTimeout:
		return "The model took too long to respond. Your message was sent; you can resend to try again."
	case ClassNetworkUnreachable:
		return "Could not reach the server. Check your connection and resend."
	case ClassUpstreamUnavailable:
		return "The model service is temporarily unavailable. Please resend in a moment."
	default:
		return "Something went wrong. Please resend."
	}
}

// classFromCode maps the server's wire error codes to client classes.
func classFromCode(code string) Class {
	switch code {
	case "VALIDATION_ERROR":
		return ClassInvalidInput
	case "NOT_FOUND":
		return ClassNotFound
	case "RATE_LIMITED":
		return ClassRateLimited
	case "INVALID_MODEL":
		return ClassInvalidModel
	case "UPSTREAM_UNAVAILABLE", "CONFIG_ERROR", "UPSTREAM_ERROR":
		return ClassUpstreamUnavailable
	default:
		return ClassInternal
	}
}
