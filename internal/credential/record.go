package credential

import (
	"strings"
	"time"
)

// Document field names as they appear in user_data.json.
const (
	FieldPassword   = "password"
	FieldToken      = "Authorization"
	FieldOccupied   = "is_occupancy"
	FieldLoginTime  = "login_time"
	FieldUpdateTime = "update_time"
)

// Record is one simulated-user identity.
type Record struct {
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	Token      string     `json:"token"`
	Occupied   bool       `json:"occupied"`
	LoginTime  *time.Time `json:"login_time,omitempty"`
	UpdateTime time.Time  `json:"update_time"`
}

// Meta is the replaceable part of a record, as passed to Store.Update.
type Meta struct {
	Password string
	Token    string
	Occupied bool
}

// IsDirty reports whether the record lacks a usable token.
func (r Record) IsDirty() bool {
	return strings.TrimSpace(r.Token) == ""
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	out := r
	if r.LoginTime != nil {
		t := *r.LoginTime
		out.LoginTime = &t
	}
	return out
}

// Meta returns the replaceable fields of r.
func (r Record) Meta() Meta {
	return Meta{Password: r.Password, Token: r.Token, Occupied: r.Occupied}
}
