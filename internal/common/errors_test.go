package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("session not found")
	appErr := NewAppError(CodeNotFound, "session not found", http.StatusNotFound, base)

	if !errors.Is(appErr, base) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
	if appErr.Error() != "session not found" {
		t.Fatalf("Error() = %q", appErr.Error())
	}
	if !IsAppError(fmt.Errorf("handler: %w", appErr)) {
		t.Fatal("expected IsAppError through a wrapping chain")
	}
	if IsAppError(base) {
		t.Fatal("plain errors are not app errors")
	}
}

func TestAppErrorMessageFallback(t *testing.T) {
	appErr := &AppError{Code: CodeConflict, Message: "cart is empty", HTTPStatus: http.StatusConflict}
	if appErr.Error() != "cart is empty" {
		t.Fatalf("Error() = %q", appErr.Error())
	}
	var nilErr *AppError
	if nilErr.Error() != "" || nilErr.Unwrap() != nil {
		t.Fatal("nil receiver must be safe")
	}
}
