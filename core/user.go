package core

type (
	// User is the identity resolved by the login provider. Subject is the
	// owner value stored on assets and projects.
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatarUrl"`
		Name      string `json:"name"`
	}
)
