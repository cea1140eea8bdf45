package domain

// ActionResult is the envelope returned to callers that cannot propagate
// errors. Exactly one of Data or Error is meaningful, selected by Success.
type ActionResult[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Succeed wraps data in a successful envelope.
func Succeed[T any](data T) ActionResult[T] {
	return ActionResult[T]{Success: true, Data: data}
}

// Fail converts err into a failed envelope.
func Fail[T any](err error) ActionResult[T] {
	return ActionResult[T]{Error: err.Error()}
}
