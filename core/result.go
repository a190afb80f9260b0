package core

// ActionResult is the uniform body returned by every admin action.
type ActionResult struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
	Message string       `json:"message,omitempty"`
	Warning string       `json:"warning,omitempty"`
}

func OK(data interface{}, message string) ActionResult {
	return ActionResult{Success: true, Data: data, Message: message}
}

func (r ActionResult) WithWarning(warning string) ActionResult {
	r.Warning = warning
	return r
}

func Fail(msg string) ActionResult {
	return ActionResult{Success: false, Error: msg}
}
