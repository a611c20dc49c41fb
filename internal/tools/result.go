package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM    string `json:"for_llm"`           // content fed back into the loop
	IsError   bool   `json:"is_error"`          // marks a failed call
	Truncated bool   `json:"truncated"`         // output exceeded the size cap
	Err       error  `json:"-"`                 // internal error (not serialized)
}

// NewResult wraps successful tool output.
func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// ErrorResult wraps a short human-readable failure text. The loop keeps
// going; the model sees the message and can react.
func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}
