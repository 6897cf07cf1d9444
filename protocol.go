package xmux

// Protocol captures the few message types the runtime itself must understand.
// Everything else stays opaque.
type Protocol struct {
	// ErrorType is the type tag of error-kind responses.
	ErrorType string
	// CloseRequest builds the request sent to every session on shutdown.
	CloseRequest func() *Message
	// IsClosed reports whether an unsolicited event is the session's terminal state.
	IsClosed func(m *Message) bool
}

// DefaultProtocol speaks the TDLib JSON conventions: "error" responses carrying
// code/message, a "close" request, and updateAuthorizationState reaching
// authorizationStateClosed as the terminal lifecycle event.
func DefaultProtocol() Protocol {
	return Protocol{
		ErrorType: "error",
		CloseRequest: func() *Message {
			return &Message{Type: "close", Payload: []byte("{}")}
		},
		IsClosed: func(m *Message) bool {
			if m.Type != "updateAuthorizationState" {
				return false
			}
			state, ok := Field[map[string]any](m, "authorization_state")
			if !ok {
				return false
			}
			return state[FieldType] == "authorizationStateClosed"
		},
	}
}

func (p Protocol) withDefaults() Protocol {
	d := DefaultProtocol()
	if p.ErrorType == "" {
		p.ErrorType = d.ErrorType
	}
	if p.CloseRequest == nil {
		p.CloseRequest = d.CloseRequest
	}
	if p.IsClosed == nil {
		p.IsClosed = d.IsClosed
	}
	return p
}

// remoteError converts an error-kind response into a *RemoteError.
func (p Protocol) remoteError(m *Message) (*RemoteError, bool) {
	if m.Type != p.ErrorType {
		return nil, false
	}
	body, _ := Decode[struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}](m)
	return &RemoteError{Code: body.Code, Message: body.Message}, true
}
