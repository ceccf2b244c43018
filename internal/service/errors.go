package service

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

type ErrCode string

const (
	CodeValidation  ErrCode = "Validation"
	CodeNotFound    ErrCode = "NotFound"
	CodeRateLimited ErrCode = "RateLimited"
	CodeIOFailure   ErrCode = "IOFailure"
)

// Error 是业务层统一错误，handler 通过 StatusCode 映射 HTTP 状态码。
type Error struct {
	Code       ErrCode
	msg        string
	cause      error
	RetryAfter time.Duration
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) WithCause(c error) *Error {
	e.cause = c
	return e
}

// Trace 返回错误及其 cause 链。
func (e *Error) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	err := errors.Unwrap(e)
	for err != nil {
		b.WriteString("\nCaused by: ")
		b.WriteString(err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

func (e *Error) StatusCode() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func NewValidation(m string) *Error { return &Error{Code: CodeValidation, msg: m} }

func NewNotFound(m string) *Error { return &Error{Code: CodeNotFound, msg: m} }

func NewIOFailure(m string) *Error { return &Error{Code: CodeIOFailure, msg: m} }

func NewRateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: CodeRateLimited, msg: "too many requests", RetryAfter: retryAfter}
}

// ErrThreadNotFound 每次返回新的实例，调用方可以放心地 WithCause。
func ErrThreadNotFound() *Error { return NewNotFound("thread not found") }

func codeOf(err error) (ErrCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func IsValidation(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeValidation
}

func IsNotFound(err error) bool {
	c, ok := codeOf(err)
	return ok && c == CodeNotFound
}

// StatusOf 对非业务错误返回 500。
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
