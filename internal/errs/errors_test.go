package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: errors.New("boom"), want: EInternal},
		{name: "coded", err: New(ENotFound, "Instance not found"), want: ENotFound},
		{name: "wrapped with op", err: Wrap(New(EInvalid, "bad"), "svc.Create"), want: EInvalid},
		{name: "fmt wrapped", err: fmt.Errorf("ctx: %w", New(EForbidden, "no")), want: EForbidden},
		{name: "op without code", err: Wrap(errors.New("x"), "op"), want: EInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Instance not found", ErrorMessage(Wrap(New(ENotFound, "Instance not found"), "op")))
	assert.Equal(t, "An internal error has occurred.", ErrorMessage(errors.New("db exploded")))
	assert.Equal(t, "Failed to create cipher", ErrorMessage(Upstream("op", "Failed to create cipher", errors.New("503"))))
}

func TestErrorString(t *testing.T) {
	e := Upstream("vault.CreateCipher", "Failed to create cipher", errors.New("status 500"))
	assert.Equal(t, "Failed to create cipher: status 500", e.Error())
	assert.Equal(t, "<not found>", (&Error{Code: ENotFound}).Error())
	assert.True(t, errors.Is(e, e.Err))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(EInvalid))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ENotFound))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(EUnavailable))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(EUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(EForbidden))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(EUpstream))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(EInternal))
}
