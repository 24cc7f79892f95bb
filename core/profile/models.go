package profile

import (
	"strings"
	"time"

	"github.com/trezcool/masomo-portal/core"
)

type Role string

// Roles
const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
	RoleGuest   Role = "guest"
)

var (
	rolePriorities = map[Role]int{
		RoleAdmin:   30,
		RoleFaculty: 20,
		RoleTeacher: 15,
		RoleParent:  5,
		RoleStudent: 1,
	}

	Roles = []RoleInfo{
		{Name: "Guest", Value: RoleGuest},
		{Name: "Student", Value: RoleStudent},
		{Name: "Parent", Value: RoleParent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Faculty", Value: RoleFaculty},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type RoleInfo struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

// Priority ranks roles for permission checks. Unknown roles rank like guests.
func (r Role) Priority() int {
	return rolePriorities[r]
}

func (r Role) String() string { return string(r) }

// NormalizeRole maps a raw role value to its canonical lowercase form, defaulting to RoleGuest.
func NormalizeRole(raw string) Role {
	role := core.CleanString(raw, true /* lower */)
	if role == "" {
		return RoleGuest
	}
	return Role(role)
}

// RoleOf extracts the role of a Profile from `personalInfo.role` or the root `role` field.
func RoleOf(p *Profile) Role {
	if p == nil {
		return RoleGuest
	}
	if raw, ok := p.String("personalInfo.role"); ok {
		return NormalizeRole(raw)
	}
	if raw, ok := p.String("role"); ok {
		return NormalizeRole(raw)
	}
	return RoleGuest
}

// Principal is the auth provider's user record.
type Principal struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (p Principal) LogIdentity() (id, username, email string) {
	return p.ID, "", p.Email
}

var _ core.Identity = Principal{}

// Profile is a school record, keyed by a school-assigned ID (not the principal ID).
type Profile struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Data       map[string]interface{} `json:"data"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
}

// Lookup returns the value found at a dot-separated path in Profile.Data.
func (p *Profile) Lookup(path string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	return LookupPath(p.Data, path)
}

// String returns the non-empty string found at a dot-separated path in Profile.Data.
func (p *Profile) String(path string) (string, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// LookupPath walks nested maps following a dot-separated path, eg. "personalInfo.email".
func LookupPath(data map[string]interface{}, path string) (interface{}, bool) {
	var curr interface{} = data
	for _, key := range strings.Split(path, ".") {
		m, ok := curr.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if curr, ok = m[key]; !ok {
			return nil, false
		}
	}
	return curr, curr != nil
}
