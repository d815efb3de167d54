package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// State is the session lifecycle state.
type State uint8

const (
	// StateAnonymous means no credentials are held.
	StateAnonymous State = iota
	// StateAuthenticating means a login call is outstanding.
	StateAuthenticating
	// StateActive means both credentials and a profile are held.
	StateActive
	// StateRefreshing means a renewal for the current generation is outstanding.
	StateRefreshing
	// StateExpired means the session ended because renewal failed.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Live reports whether the state carries usable credentials.
// A renewal in progress does not end liveness.
func (s State) Live() bool {
	return s == StateActive || s == StateRefreshing
}

// Terminal reports whether the state holds no credentials.
func (s State) Terminal() bool {
	return s == StateAnonymous || s == StateExpired
}

// Reason says why a session ends.
type Reason uint8

const (
	// ReasonUser is an explicit sign-out; the store lands in StateAnonymous.
	ReasonUser Reason = iota
	// ReasonExpired is an irrecoverable credential failure; the store lands in StateExpired.
	ReasonExpired
)

func (r Reason) String() string {
	if r == ReasonExpired {
		return "expired"
	}
	return "user"
}

// Profile is the seller identity returned by the backend.
type Profile struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	CompanyName string `json:"company_name"`
}

// UnmarshalJSON tolerates a null company_name.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw struct {
		Username    string  `json:"username"`
		Email       string  `json:"email"`
		CompanyName *string `json:"company_name"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Username, p.Email = raw.Username, raw.Email
	p.CompanyName = ""
	if raw.CompanyName != nil {
		p.CompanyName = *raw.CompanyName
	}
	return nil
}

// Credentials are the operator's login inputs.
type Credentials struct {
	Username string
	Password string
}

// Tokens is the credential pair issued at login.
type Tokens struct {
	Access  string
	Refresh string
}

// Backend is the subset of the seller API the store needs.
type Backend interface {
	// IssueSession exchanges credentials for a token pair.
	// Rejections are reported as InvalidCredentialsError.
	IssueSession(ctx context.Context, creds Credentials) (Tokens, error)
	// FetchProfile loads the identity behind access.
	FetchProfile(ctx context.Context, access string) (Profile, error)
}

// Snapshot is a consistent view of the store at one instant.
type Snapshot struct {
	State      State
	Generation uint64
	Access     string
	HasRefresh bool
	Profile    *Profile
}
