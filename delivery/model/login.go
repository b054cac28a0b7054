package model

// Messages shared by the login form and the login API.
const (
	MessageLoginSent  = "Login email sent successfully!"
	MessageEmptyEmail = "Please enter an email address"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email string `json:"email"`
}

// LoginResponse is returned by the login endpoint for every outcome,
// including validation and backend failures.
type LoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type VerifyResponse struct {
	Success bool   `json:"success"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// RejectedError is returned by a login backend that refused the address.
// Message is safe to show to the user.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "login rejected: " + e.Message
}
