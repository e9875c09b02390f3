package users

import "encoding/json"

// User mirrors the backend's user record. The gateway only ever holds
// transient copies for display and edit forms; the backend owns the data.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	ProfileImg  string `json:"profile_img"`
	IsActive    bool   `json:"is_active"`
}

// CreateUserInput is the sign-up form. Optional fields left empty are
// omitted from the outbound payload entirely.
type CreateUserInput struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
	CPassword   string `json:"c_password"`
}

// UpdateUserInput is the edit form; every field is optional.
type UpdateUserInput struct {
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// EmailVerificationRequest asks the backend to send a verification link.
type EmailVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Outcome is the normalized action result: Data or Success on success,
// Err on failure. No action ever propagates an error past this shape.
type Outcome struct {
	Data    json.RawMessage
	Success string
	Err     *Error
}

// OK reports whether the action succeeded.
func (o *Outcome) OK() bool {
	return o.Err == nil
}
