// Package webapi exposes the router over HTTP with gin.
//
// response.go defines the uniform response envelope: code 0 on success,
// -1 on failure, with the payload under data.
package webapi

// Response is the envelope every endpoint returns.
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success wraps a payload in a success envelope.
func Success(data interface{}) Response {
	return Response{Code: 0, Msg: "success", Data: data}
}

// Fail builds a failure envelope with the given message.
func Fail(msg string) Response {
	return Response{Code: -1, Msg: msg}
}
