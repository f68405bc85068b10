package auth

// User is the authenticated identity as produced by the identity provider's
// login exchange. The token is opaque to this service.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	GroupName string `json:"group"`
	Branch    string `json:"branch,omitempty"`
	Token     string `json:"-"`
}
