package auth

import (
	"errors"
	"os"
	"strings"
)

// Environment variables holding the account credentials.
const (
	EnvEmail    = "LINKEDIN_EMAIL"
	EnvPassword = "LINKEDIN_PASSWORD"
)

// ErrMissingCredentials is returned before any browser is launched when the
// account email or password is unset.
var ErrMissingCredentials = errors.New("please set LINKEDIN_EMAIL and LINKEDIN_PASSWORD")

// Credentials identify the LinkedIn account.
type Credentials struct {
	Email    string
	Password string
}

// CredentialsFromEnv reads credentials from LINKEDIN_EMAIL and LINKEDIN_PASSWORD.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Email:    strings.TrimSpace(os.Getenv(EnvEmail)),
		Password: os.Getenv(EnvPassword),
	}
}

// Validate reports ErrMissingCredentials unless both fields are set.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// String hides the password.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.Email
	}
	return c.Email + ":****"
}
