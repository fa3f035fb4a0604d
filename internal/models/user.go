package models

import "time"

// Role is a named role with its granted permissions. Permission strings use
// the "resource:action" form.
type Role struct {
	Name        string   `db:"name" json:"name"`
	Permissions []string `db:"-" json:"permissions"`
}

// User is the identity projection read from the user directory. It is never
// written by this service.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`

	Roles []Role `db:"-" json:"roles"`
}

// RoleNames returns the ordered role names for token claims.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// FlattenPermissions collapses roles[].permissions[] into a deduplicated,
// order-preserving list of "resource:action" strings.
func (u *User) FlattenPermissions() []string {
	seen := make(map[string]struct{})
	flat := make([]string, 0)
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			flat = append(flat, p)
		}
	}
	return flat
}

// Info returns the response projection of the user.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		FullName:    u.FullName,
		Roles:       u.RoleNames(),
		Permissions: u.FlattenPermissions(),
	}
}
