// Package users implements the user-management actions: thin, normalized
// adapters over the backend's user endpoints.
package users

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"authgate/internal/backend"
	"authgate/internal/storage"
)

// Backend is the slice of the HTTP client the user actions use.
type Backend interface {
	Get(ctx context.Context, path string) (*backend.Response, error)
	Post(ctx context.Context, path string, body any) (*backend.Response, error)
	Patch(ctx context.Context, path string, body any) (*backend.Response, error)
	Delete(ctx context.Context, path string) (*backend.Response, error)
	PostMultipart(ctx context.Context, path string, fields map[string]string, fileField, filename string, file io.Reader) (*backend.Response, error)
}

// Service exposes one action per backend user endpoint. Every action
// returns an Outcome; no error ever escapes past it.
type Service interface {
	List(ctx context.Context) *Outcome
	Get(ctx context.Context, id string) *Outcome
	Create(ctx context.Context, in CreateUserInput) *Outcome
	Update(ctx context.Context, id string, in UpdateUserInput) *Outcome
	Delete(ctx context.Context, id string) *Outcome
	Activate(ctx context.Context, id string) *Outcome
	Deactivate(ctx context.Context, id string) *Outcome
	UploadProfileImage(ctx context.Context, id, filename, contentType string, file io.Reader) *Outcome
	RequestEmailVerification(ctx context.Context, email string) *Outcome
	VerifyEmail(ctx context.Context, token, expiry string) *Outcome
}

type service struct {
	api Backend
	// store stages profile images in object storage before the upload is
	// forwarded; nil disables staging.
	store storage.Service
}

// NewService builds the user actions. store may be nil when object
// storage is not configured.
func NewService(api Backend, store storage.Service) Service {
	return &service{api: api, store: store}
}

// List fetches all users.
func (s *service) List(ctx context.Context) *Outcome {
	resp, err := s.api.Get(ctx, "/users/")
	if err != nil {
		slog.Warn("user list request failed", "error", err)
		return &Outcome{Err: Plain("Failed to fetch users.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Data: resp.Data}
}

// Get fetches one user by id.
func (s *service) Get(ctx context.Context, id string) *Outcome {
	resp, err := s.api.Get(ctx, "/users/"+url.PathEscape(id)+"/")
	if err != nil {
		slog.Warn("user fetch failed", "user_id", id, "error", err)
		return &Outcome{Err: Plain("Failed to fetch user.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Data: resp.Data}
}

// Create validates the sign-up form locally, forwards only the non-empty
// optional fields, and normalizes backend validation errors through
// SignUpError.
func (s *service) Create(ctx context.Context, in CreateUserInput) *Outcome {
	if errs := validateCreate(in); len(errs) > 0 {
		return &Outcome{Err: FieldErrors(errs)}
	}

	payload := map[string]string{
		"email":      in.Email,
		"password":   in.Password,
		"c_password": in.CPassword,
	}
	setIfPresent(payload, "username", in.Username)
	setIfPresent(payload, "first_name", in.FirstName)
	setIfPresent(payload, "last_name", in.LastName)
	setIfPresent(payload, "phone_number", in.PhoneNumber)

	resp, err := s.api.Post(ctx, "/users/", payload)
	if err != nil {
		slog.Warn("user create failed", "error", err)
		return &Outcome{Err: Plain("Failed to create user.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: SignUpError(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "User created successfully.")}
}

// Update forwards only the fields the form filled in.
func (s *service) Update(ctx context.Context, id string, in UpdateUserInput) *Outcome {
	payload := map[string]string{}
	setIfPresent(payload, "username", in.Username)
	setIfPresent(payload, "first_name", in.FirstName)
	setIfPresent(payload, "last_name", in.LastName)
	setIfPresent(payload, "phone_number", in.PhoneNumber)

	resp, err := s.api.Patch(ctx, "/users/"+url.PathEscape(id)+"/", payload)
	if err != nil {
		slog.Warn("user update failed", "user_id", id, "error", err)
		return &Outcome{Err: Plain("Failed to update user.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "User updated successfully.")}
}

// Delete removes a user.
func (s *service) Delete(ctx context.Context, id string) *Outcome {
	resp, err := s.api.Delete(ctx, "/users/"+url.PathEscape(id)+"/")
	if err != nil {
		slog.Warn("user delete failed", "user_id", id, "error", err)
		return &Outcome{Err: Plain("Failed to delete user.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "User deleted successfully.")}
}

// Activate re-enables a deactivated account.
func (s *service) Activate(ctx context.Context, id string) *Outcome {
	return s.action(ctx, id, "activate", "Failed to activate user.", "User activated successfully.")
}

// Deactivate disables an account.
func (s *service) Deactivate(ctx context.Context, id string) *Outcome {
	return s.action(ctx, id, "deactivate", "Failed to deactivate user.", "User deactivated successfully.")
}

func (s *service) action(ctx context.Context, id, verb, fallback, defaultSuccess string) *Outcome {
	resp, err := s.api.Post(ctx, "/users/"+url.PathEscape(id)+"/"+verb+"/", nil)
	if err != nil {
		slog.Warn("user action failed", "user_id", id, "action", verb, "error", err)
		return &Outcome{Err: Plain(fallback)}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, defaultSuccess)}
}

// UploadProfileImage forwards the image upload. When object storage is
// configured the image is staged there first and the object key travels
// with the multipart request.
func (s *service) UploadProfileImage(ctx context.Context, id, filename, contentType string, file io.Reader) *Outcome {
	fields := map[string]string{}

	body := file
	if s.store != nil {
		// buffer once so the same bytes can be staged and forwarded
		buf, err := io.ReadAll(file)
		if err != nil {
			slog.Warn("profile image read failed", "user_id", id, "error", err)
			return &Outcome{Err: Plain("Failed to upload profile image.")}
		}
		key, err := s.store.UploadProfileImage(ctx, id, filename, contentType, bytes.NewReader(buf))
		if err != nil {
			slog.Warn("profile image staging failed", "user_id", id, "error", err)
		} else {
			fields["storage_key"] = key
		}
		body = bytes.NewReader(buf)
	}

	resp, err := s.api.PostMultipart(ctx, "/users/"+url.PathEscape(id)+"/profile-image/", fields, "profile_img", filename, body)
	if err != nil {
		slog.Warn("profile image upload failed", "user_id", id, "error", err)
		return &Outcome{Err: Plain("Failed to upload profile image.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "Profile image uploaded successfully.")}
}

// RequestEmailVerification asks the backend to mail a verification link.
func (s *service) RequestEmailVerification(ctx context.Context, email string) *Outcome {
	resp, err := s.api.Post(ctx, "/request-email-verification/", map[string]string{"email": email})
	if err != nil {
		slog.Warn("email verification request failed", "error", err)
		return &Outcome{Err: Plain("Failed to send verification link.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "Verification link sent.")}
}

// VerifyEmail redeems a verification link's token.
func (s *service) VerifyEmail(ctx context.Context, token, expiry string) *Outcome {
	path := fmt.Sprintf("/verify-email/?token=%s&expiry=%s", url.QueryEscape(token), url.QueryEscape(expiry))
	resp, err := s.api.Get(ctx, path)
	if err != nil {
		slog.Warn("email verification failed", "error", err)
		return &Outcome{Err: Plain("Token expired or invalid.")}
	}
	if resp.Err != nil {
		return &Outcome{Err: passthrough(resp.Err)}
	}
	return &Outcome{Success: successMessage(resp.Data, "Email verified successfully.")}
}

// validateCreate runs the local checks that must fail before any network
// call is made.
func validateCreate(in CreateUserInput) map[string]string {
	errs := map[string]string{}

	if in.Email == "" {
		errs["email"] = "Email is required."
	} else if !strings.Contains(in.Email, "@") {
		errs["email"] = "Invalid email format."
	}
	if in.Password == "" {
		errs["password"] = "Password is required."
	}
	if in.CPassword == "" {
		errs["c_password"] = "Password confirmation is required."
	}
	if in.Password != in.CPassword {
		errs["c_password"] = "Passwords do not match."
	}
	return errs
}

func setIfPresent(payload map[string]string, key, value string) {
	if value != "" {
		payload[key] = value
	}
}

// passthrough hands a backend error to the client unchanged: plain stays
// plain, structured becomes a field map of first messages.
func passthrough(apiErr *backend.Error) *Error {
	if apiErr.IsPlain() {
		return Plain(apiErr.Plain)
	}
	fields := make(map[string]string, len(apiErr.Fields))
	for name, raw := range apiErr.Fields {
		if first, ok := firstString(raw); ok {
			fields[name] = first
		} else {
			fields[name] = string(raw)
		}
	}
	return FieldErrors(fields)
}

// successMessage extracts the backend's success string, falling back to a
// per-action default.
func successMessage(data json.RawMessage, fallback string) string {
	var body struct {
		Success string `json:"success"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Success != "" {
		return body.Success
	}
	return fallback
}
