package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to obtain the session cookies that
// `igcrawler auth login` asks for.
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SESSION COOKIE GUIDE")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Log in to https://www.instagram.com in a browser.")
	fmt.Fprintln(w, "2. Open Developer Tools (F12) and go to Application/Storage > Cookies.")
	fmt.Fprintln(w, "3. Copy the values of these cookies:")
	fmt.Fprintln(w, "     sessionid   long string containing %3A")
	fmt.Fprintln(w, "     csrftoken   32 characters")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The session is encrypted into the session file and reused by every run.")
	fmt.Fprintf(w, "For unattended runs set %s and %s instead,\n", EnvSessionID, EnvCSRFToken)
	fmt.Fprintf(w, "or %s and %s to let the crawler log in itself.\n", EnvUsername, EnvPassword)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use a secondary account: crawling can get a session flagged.")
	fmt.Fprintln(w, rule)
}
