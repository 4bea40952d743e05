package models

// UserRole is the admin API role carried in access tokens.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleManager UserRole = "MANAGER"
)

// PlatformUser is a row of the platform user directory.
type PlatformUser struct {
	ID           int64  `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	FirstName    string `db:"firstname" json:"firstname"`
	LastName     string `db:"lastname" json:"lastname"`
	Email        string `db:"email" json:"email"`
	PasswordHash string `db:"password" json:"-"`
	Suspended    bool   `db:"suspended" json:"suspended"`
	Deleted      bool   `db:"deleted" json:"deleted"`
}

// FullName returns "First Last".
func (u PlatformUser) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
