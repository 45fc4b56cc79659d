package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind is the machine-readable category of an application error.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindBadRequest         Kind = "bad_request"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindInvalidDestination Kind = "invalid_destination"
	KindInvalidTransition  Kind = "invalid_transition"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindGateway            Kind = "gateway_error"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal_error"
)

// Error represents an application error
type Error struct {
	Code    int            `json:"code"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Body is the response payload written by controllers.
func (e *Error) Body() gin.H {
	body := gin.H{"error": e.Message, "kind": e.Kind}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return body
}

// New creates a new Error
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, KindValidation, message, nil)
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, KindBadRequest, message, nil)
}

// InsufficientStock names the product that could not be reserved and how many units are left.
func InsufficientStock(productID string, available int) *Error {
	e := New(http.StatusConflict, KindInsufficientStock,
		fmt.Sprintf("insufficient stock for product %s: %d available", productID, available), nil)
	e.Details = map[string]any{"product_id": productID, "available": available}
	return e
}

func InvalidDestination(message string) *Error {
	return New(http.StatusUnprocessableEntity, KindInvalidDestination, message, nil)
}

func InvalidTransition(from, to string) *Error {
	e := New(http.StatusConflict, KindInvalidTransition,
		fmt.Sprintf("cannot move order from %s to %s", from, to), nil)
	e.Details = map[string]any{"from": from, "to": to}
	return e
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, KindNotFound, message, nil)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, KindUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, KindForbidden, message, nil)
}

func Gateway(message string, err error) *Error {
	return New(http.StatusBadGateway, KindGateway, message, err)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, KindConflict, message, nil)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindInternal, message, err)
}

// From returns err as an *Error, wrapping anything unknown as an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal server error", err)
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Error middleware for Gin
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			appErr := From(c.Errors.Last().Err)
			c.AbortWithStatusJSON(appErr.Code, appErr.Body())
		}
	}
}
