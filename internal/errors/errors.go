// Package errors provides the trigger core's typed error taxonomy, used
// to classify failures for logging and to decide whether to recover
// locally or surface the failure to the broker as a nack.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode names one of the service's error kinds.
type ErrorCode string

const (
	MalformedEvent    ErrorCode = "EVT_1001"
	DuplicateEvent    ErrorCode = "EVT_1002"
	ExpressionErr     ErrorCode = "RULE_2001"
	LLMTransportErr   ErrorCode = "LLM_3001"
	LLMParseErr       ErrorCode = "LLM_3002"
	StoreTransientErr ErrorCode = "STORE_4001"
	ChannelTransient  ErrorCode = "NOTIFY_5001"
	ChannelPermanent  ErrorCode = "NOTIFY_5002"
	ConfigInvalid     ErrorCode = "RULE_2002"
)

// TriggerError is a structured error carrying a stable code and, where
// relevant, an HTTP status for a management surface to report.
type TriggerError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Err        error
}

func (e *TriggerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *TriggerError) Unwrap() error { return e.Err }

// New creates a TriggerError with no wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *TriggerError {
	return &TriggerError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a TriggerError around an existing error.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *TriggerError {
	return &TriggerError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func Malformed(err error) *TriggerError {
	return Wrap(MalformedEvent, "malformed event", http.StatusBadRequest, err)
}

func Duplicate(eventID string) *TriggerError {
	return New(DuplicateEvent, fmt.Sprintf("event %s already processed", eventID), http.StatusOK)
}

func Expression(ruleID string, err error) *TriggerError {
	return Wrap(ExpressionErr, fmt.Sprintf("expression evaluation failed for rule %s", ruleID), http.StatusOK, err)
}

func LLMTransport(kind string, err error) *TriggerError {
	return Wrap(LLMTransportErr, fmt.Sprintf("llm_error:%s", kind), http.StatusBadGateway, err)
}

func LLMParse(detail string) *TriggerError {
	return New(LLMParseErr, fmt.Sprintf("parse_error:%s", detail), http.StatusOK)
}

func StoreTransient(op string, err error) *TriggerError {
	return Wrap(StoreTransientErr, fmt.Sprintf("store operation %s failed", op), http.StatusServiceUnavailable, err)
}

func Transient(channel string, err error) *TriggerError {
	return Wrap(ChannelTransient, fmt.Sprintf("channel %s transient failure", channel), http.StatusServiceUnavailable, err)
}

func Permanent(channel string, err error) *TriggerError {
	return Wrap(ChannelPermanent, fmt.Sprintf("channel %s permanent failure", channel), http.StatusBadRequest, err)
}

func Invalid(reason string) *TriggerError {
	return New(ConfigInvalid, reason, http.StatusUnprocessableEntity)
}

// Is reports whether err (or something it wraps) is a TriggerError with
// the given code.
func Is(err error, code ErrorCode) bool {
	var te *TriggerError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
