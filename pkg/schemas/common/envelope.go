package common

// Response is the envelope every REST gateway endpoint wraps its body in.
type Response[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}
