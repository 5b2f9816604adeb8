package httputil

import (
	"fmt"
	"net/http"
	"strconv"
)

// Param returns a request parameter from the query string or, for form
// posts, the request body. Query values win on conflict.
func Param(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return r.PostFormValue(key)
}

// RequireParam returns a request parameter or an error when absent
func RequireParam(r *http.Request, key string) (string, error) {
	v := Param(r, key)
	if v == "" {
		return "", fmt.Errorf("missing parameter: %s", key)
	}
	return v, nil
}

// ParamDefault returns a request parameter or the default when absent
func ParamDefault(r *http.Request, key, defaultVal string) string {
	if v := Param(r, key); v != "" {
		return v
	}
	return defaultVal
}

// ParamBool parses a boolean request parameter
func ParamBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := Param(r, key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for parameter %s: %s", key, str)
	}
	return val, nil
}

// ClientIP returns the peer address for logging. It trusts no forwarding
// headers; the service is expected to terminate its own connections.
func ClientIP(r *http.Request) string {
	return r.RemoteAddr
}
