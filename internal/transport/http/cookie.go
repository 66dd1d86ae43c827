package httptransport

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/mssola/useragent"
)

const (
	cookieName      = "p3am_session"
	cookieValueID   = "sid"
	cookieMaxAgeSec = 7 * 24 * 60 * 60
)

// CookieConfig configures the browser session cookie.
type CookieConfig struct {
	HashKey  []byte
	BlockKey []byte
	Secure   bool
}

// NewCookieStore returns a gorilla CookieStore that authenticates (and, with
// a block key, encrypts) the session cookie.
func NewCookieStore(cfg CookieConfig) *sessions.CookieStore {
	keyPairs := [][]byte{cfg.HashKey}
	if len(cfg.BlockKey) > 0 {
		keyPairs = append(keyPairs, cfg.BlockKey)
	}
	cs := sessions.NewCookieStore(keyPairs...)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cookieMaxAgeSec,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return cs
}

// browserSessionID reads the session id from the cookie, minting a new id and
// setting the cookie when there is none. created reports a new id. A cookie
// that fails verification is replaced.
func browserSessionID(cs sessions.Store, w http.ResponseWriter, r *http.Request) (id string, created bool, err error) {
	sess, err := cs.Get(r, cookieName)
	if err == nil {
		if id, ok := sess.Values[cookieValueID].(string); ok && id != "" {
			return id, false, nil
		}
	}
	if sess == nil {
		sess = sessions.NewSession(cs, cookieName)
	}
	id = uuid.NewString()
	sess.Values[cookieValueID] = id
	if err := sess.Save(r, w); err != nil {
		return "", false, fmt.Errorf("save session cookie: %w", err)
	}
	return id, true, nil
}

// deviceLabel summarizes a User-Agent for logs, e.g. "Firefox on Linux".
func deviceLabel(uaString string) string {
	if uaString == "" {
		return "unknown"
	}
	ua := useragent.New(uaString)
	if ua.Bot() {
		return "bot"
	}
	browser, _ := ua.Browser()
	os := ua.OS()
	switch {
	case browser == "" && os == "":
		return "unknown"
	case os == "":
		return browser
	case browser == "":
		return os
	}
	label := fmt.Sprintf("%s on %s", browser, os)
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}
