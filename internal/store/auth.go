package store

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	AuthUserKey  = "ai-generator-auth-user"
	GuestAccount = "guest"
)

type AuthProvider string

const (
	ProviderWeChat AuthProvider = "wechat"
	ProviderPhone  AuthProvider = "phone"
)

var mainlandMobile = regexp.MustCompile(`^1\d{10}$`)

type AuthUser struct {
	Provider    AuthProvider `json:"provider"`
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	AvatarSeed  string       `json:"avatarSeed,omitempty"`
}

// Auth is the mock sign-in session. There is no credential check.
type Auth struct {
	kv KV
}

func NewAuth(kv KV) *Auth {
	return &Auth{kv: kv}
}

// CurrentUser returns nil when nobody is signed in or the stored session is
// incomplete.
func (a *Auth) CurrentUser() (*AuthUser, error) {
	var u AuthUser
	ok, err := load(a.kv, AuthUserKey, &u)
	if err != nil || !ok {
		return nil, err
	}
	if u.ID == "" || u.Provider == "" || u.DisplayName == "" {
		return nil, nil
	}
	return &u, nil
}

// AccountID keys the per-account state: "<provider>:<id>" or "guest".
func (a *Auth) AccountID() (string, error) {
	u, err := a.CurrentUser()
	if err != nil || u == nil {
		return GuestAccount, err
	}
	return string(u.Provider) + ":" + u.ID, nil
}

func (a *Auth) LoginWeChat() (*AuthUser, error) {
	u := &AuthUser{
		Provider:    ProviderWeChat,
		ID:          "demo",
		DisplayName: "WeChat user",
		AvatarSeed:  "wechat-demo",
	}
	return u, save(a.kv, AuthUserKey, u)
}

// LoginPhone accepts a mainland mobile number, whitespace ignored. It returns
// a nil user for anything else.
func (a *Auth) LoginPhone(phone string) (*AuthUser, error) {
	digits := NormalizePhone(phone)
	if digits == "" {
		return nil, nil
	}
	u := &AuthUser{
		Provider:    ProviderPhone,
		ID:          digits,
		DisplayName: "Phone user " + digits[len(digits)-4:],
		AvatarSeed:  "phone-" + digits,
	}
	return u, save(a.kv, AuthUserKey, u)
}

func (a *Auth) Logout() error {
	return a.kv.Delete(AuthUserKey)
}

// NormalizePhone strips whitespace and returns "" unless the rest is an
// 11-digit number starting with 1.
func NormalizePhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)
	if !mainlandMobile.MatchString(digits) {
		return ""
	}
	return digits
}
