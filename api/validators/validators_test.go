package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

type resolveBody struct {
	Resolution string `json:"resolution" validate:"required,oneof=keep_mine take_theirs"`
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBody(t *testing.T) {
	var ok resolveBody
	require.NoError(t, DecodeJSONBody(post(`{"resolution":"take_theirs"}`), &ok))
	assert.Equal(t, "take_theirs", ok.Resolution)

	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"resolution":"keep_mine","extra":1}`,
		"trailing data": `{"resolution":"keep_mine"}{"resolution":"keep_mine"}`,
		"bad enum":      `{"resolution":"merge"}`,
		"too large":     `{"resolution":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var dest resolveBody
			err := DecodeJSONBody(post(body), &dest)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestDecodeJSONBodyFieldDetails(t *testing.T) {
	var dest resolveBody
	err := DecodeJSONBody(post(`{"resolution":"merge"}`), &dest)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be one of keep_mine, take_theirs", details["resolution"])
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&bad=x&big=900", nil)

	v, err := ParseQueryInt(r, "limit", 50, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(r, "missing", 50, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(r, "bad", 50, 1, 500)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(r, "big", 50, 1, 500)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUID(t *testing.T) {
	_, err := ParseUUID(" ", "conflict id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseUUID("nope", "conflict id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	id, err := ParseUUID("8f14e45f-ceea-4e7a-9b1c-2d3e4f5a6b7c", "conflict id")
	require.NoError(t, err)
	assert.Equal(t, "8f14e45f-ceea-4e7a-9b1c-2d3e4f5a6b7c", id.String())
}
