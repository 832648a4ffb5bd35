package session

import "time"

// Snapshot is a serialized browser session: the cookies and per-origin
// local storage that let a new browser context resume as already signed in.
// The JSON layout is Playwright's storage-state format so the engine can
// consume it without translation.
type Snapshot struct {
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

// Cookie is one stored cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Origin holds the local storage entries of one origin.
type Origin struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// NameValue is a single local storage entry.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Empty reports whether the snapshot carries no authentication artifacts.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

// Expired reports whether every cookie that carries an expiry date has
// expired at now. Session cookies (expires <= 0) never expire by date, and a
// snapshot without dated cookies is never considered expired; the dashboard
// remains the final judge of validity.
func (s *Snapshot) Expired(now time.Time) bool {
	if s == nil {
		return true
	}

	dated := 0
	for _, c := range s.Cookies {
		if c.Expires <= 0 {
			return false
		}
		dated++
		if time.Unix(int64(c.Expires), 0).After(now) {
			return false
		}
	}
	return dated > 0
}
