package users

import (
	"csv-file-drop/internal/optional"
)

// Profile is the field set shared by every user shape.
type Profile struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
	Disabled *bool   `json:"disabled"`
	Admin    *bool   `json:"admin"`
}

func (p Profile) IsAdmin() bool {
	return p.Admin != nil && *p.Admin
}

func (p Profile) IsDisabled() bool {
	return p.Disabled != nil && *p.Disabled
}

// User is what the API returns.
type User struct {
	Username string `json:"username"`
	Profile
}

// Record is what the credential store holds.
type Record struct {
	User
	HashedPassword string `json:"hashed_password"`
}

// NewUser is the create payload.
type NewUser struct {
	Username string `json:"username" validate:"required,dirname,ne=me"`
	Password string `json:"password" validate:"required,max=72"`
	Profile
}

// Patch is the partial update payload. Absent fields leave the record
// untouched; null clears email and full_name and is rejected elsewhere.
type Patch struct {
	Username optional.Field[string] `json:"username"`
	Password optional.Field[string] `json:"password"`
	Email    optional.Field[string] `json:"email"`
	FullName optional.Field[string] `json:"full_name"`
	Disabled optional.Field[bool]   `json:"disabled"`
	Admin    optional.Field[bool]   `json:"admin"`
}

// TouchesPrivileges reports whether the patch changes admin or disabled.
func (p Patch) TouchesPrivileges() bool {
	return p.Disabled.Set || p.Admin.Set
}
