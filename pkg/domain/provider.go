package domain

import (
	"crypto/rand"
	"fmt"
)

const handleAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomHandle returns 13 random base-36 characters.
func RandomHandle() (string, error) {
	b := make([]byte, 13)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = handleAlphabet[int(b[i])%len(handleAlphabet)]
	}
	return string(b), nil
}

// ProviderProfile is the synthetic profile returned by the simulated Google
// sign-in.
type ProviderProfile struct {
	Username    string
	Email       string
	DisplayName string
}

// NewProviderProfile derives the profile for handle. Only the first five
// characters of the handle are used.
func NewProviderProfile(handle string) (ProviderProfile, error) {
	if len(handle) < 5 {
		return ProviderProfile{}, fmt.Errorf("provider handle %q is too short", handle)
	}
	name := "user_" + handle[:5]
	return ProviderProfile{
		Username:    name,
		Email:       name + "@gmail.com",
		DisplayName: "Google user " + name,
	}, nil
}
