package httputil

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/attach?command=attach&token=abc", nil)
	assert.Equal(t, "attach", Param(r, "command"))
	assert.Equal(t, "abc", Param(r, "token"))
	assert.Equal(t, "", Param(r, "missing"))
}

func TestParamFromForm(t *testing.T) {
	form := url.Values{"username": {"alice@example.com"}}
	r := httptest.NewRequest("POST", "/login", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	assert.Equal(t, "alice@example.com", Param(r, "username"))
}

func TestParamQueryWinsOverForm(t *testing.T) {
	form := url.Values{"command": {"login"}}
	r := httptest.NewRequest("POST", "/?command=attach", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	assert.Equal(t, "attach", Param(r, "command"))
}

func TestRequireParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/?token=abc", nil)

	v, err := RequireParam(r, "token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = RequireParam(r, "checksum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestParamDefault(t *testing.T) {
	r := httptest.NewRequest("GET", "/?a=1", nil)
	assert.Equal(t, "1", ParamDefault(r, "a", "x"))
	assert.Equal(t, "x", ParamDefault(r, "b", "x"))
}

func TestParamBool(t *testing.T) {
	r := httptest.NewRequest("GET", "/?debug=true&bad=notabool", nil)

	v, err := ParamBool(r, "debug", false)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = ParamBool(r, "absent", true)
	require.NoError(t, err)
	assert.True(t, v)

	_, err = ParamBool(r, "bad", false)
	assert.Error(t, err)
}
