package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"igcrawler/pkg/auth"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/proxy"
)

// Authenticate loads a session: the session file first, then the other
// credential stores, then a fresh login. Without a credential manager the
// client runs anonymously.
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	return c.establish(ctx, false)
}

// Reauthenticate replaces a session the remote rejected. The session file is
// skipped because it holds the rejected session.
func (c *HTTPClient) Reauthenticate(ctx context.Context) error {
	c.logger.Warn("session rejected, reauthenticating")
	return c.establish(ctx, true)
}

// Account returns the active session, or nil when anonymous.
func (c *HTTPClient) Account() *auth.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == nil {
		return nil
	}
	a := *c.account
	return &a
}

func (c *HTTPClient) establish(ctx context.Context, skipSession bool) error {
	if c.creds == nil {
		return nil
	}

	account, source, err := c.creds.Resolve(c.username, skipSession)
	if err != nil && !errors.Is(err, auth.ErrCredentialsNotFound) {
		return errs.Configuration("failed to resolve credentials", err)
	}
	if err != nil {
		user, pass, ok := auth.LoginCredentials()
		if !ok {
			return errs.Configuration("no credentials available: run 'igcrawler auth' or set "+auth.EnvSessionID, err)
		}
		account, err = c.Login(ctx, user, pass)
		if err != nil {
			return err
		}
		source = auth.SourceLogin
	}

	c.setAccount(account)
	c.logger.InfoWithFields("session established", map[string]interface{}{
		"username": account.Username,
		"source":   string(source),
	})

	if source != auth.SourceSessionFile {
		if err := c.creds.Persist(account); err != nil {
			c.logger.WarnWithFields("failed to persist session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return nil
}

func (c *HTTPClient) setAccount(a *auth.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = a
}

// Login exchanges a username and password for session cookies. It always
// goes out directly, never through a proxy.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (*auth.Account, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", "#PWD_INSTAGRAM_BROWSER:0:"+strconv.FormatInt(c.now().Unix(), 10)+":"+password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errs.Configuration("failed to create login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, resp, err := c.do(req, proxy.Endpoint{Address: proxy.Direct})
	if err != nil {
		if errs.IsAuthExpired(err) {
			return nil, errs.Configuration("login rejected", err)
		}
		return nil, err
	}

	var result LoginResponse
	if err := c.decode(req.URL.Path, body, &result); err != nil {
		return nil, err
	}
	if !result.Authenticated {
		return nil, errs.Configuration(fmt.Sprintf("login failed for %s", username), nil)
	}

	account := &auth.Account{Username: username}
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case "sessionid":
			account.SessionID = cookie.Value
		case "csrftoken":
			account.CSRFToken = cookie.Value
		}
	}
	if err := account.Validate(); err != nil {
		return nil, errs.Configuration("login response is missing session cookies", err)
	}

	c.logger.InfoWithFields("logged in", map[string]interface{}{
		"username": username,
	})
	return account, nil
}
