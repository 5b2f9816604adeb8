package server

import (
	"html/template"
	"net/http"
)

// Browser-facing pages. The post page auto-submits the staged response
// form; the noscript button covers browsers with scripting disabled.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "login"}}<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST" action="/login">
<input type="hidden" name="SAMLRequest" value="{{.SAMLRequest}}"/>
<input type="hidden" name="RelayState" value="{{.RelayState}}"/>
<label>Email <input type="email" name="username" autofocus/></label>
<label>Password <input type="password" name="password"/></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>{{end}}

{{define "post"}}<!DOCTYPE html>
<html>
<head><title>Redirecting</title></head>
<body onload="document.forms[0].submit()">
<form method="POST" action="{{.Destination}}">
{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>
{{end}}<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>{{end}}

{{define "error"}}<!DOCTYPE html>
<html>
<head><title>Request failed</title></head>
<body>
<h1>Request failed</h1>
<p>{{.Message}}</p>
</body>
</html>{{end}}

{{define "signedin"}}<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body>
<h1>Signed in</h1>
<p>You are signed in as {{.Username}}.</p>
<p><a href="/logout">Sign out</a></p>
</body>
</html>{{end}}
`))

type loginPage struct {
	Error       string
	SAMLRequest string
	RelayState  string
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, page loginPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, "login", page); err != nil {
		s.log.WithError(err).Error("failed to render login page")
	}
}

func (s *Server) renderErrorPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, "error", map[string]string{"Message": message}); err != nil {
		s.log.WithError(err).Error("failed to render error page")
	}
}
