package wire

import "encoding/json"

// ResultAck is the ACK response shape used by every Socket.IO handler.
type ResultAck struct {
	// Result is "success" or "error".
	Result string `json:"result"`
	// Code is set when Result is "error".
	Code string `json:"code,omitempty"`
	// Message is an optional error annotation.
	Message string `json:"message,omitempty"`
	// Data is the handler specific success payload (a MessageInfo for
	// send_message and edit_message).
	Data any `json:"data,omitempty"`
}

// SuccessAck builds a success ACK carrying data.
func SuccessAck(data any) ResultAck {
	return ResultAck{Result: "success", Data: data}
}

// ErrorAck builds an error ACK.
func ErrorAck(code, message string) ResultAck {
	return ResultAck{Result: "error", Code: code, Message: message}
}

// OK reports whether the ACK signals success.
func (a ResultAck) OK() bool { return a.Result == "success" }

// Decode round-trips v through JSON into out. Socket.IO hands payloads over as
// generic maps; this is how they become typed structs.
func Decode(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
