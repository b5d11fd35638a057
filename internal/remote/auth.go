package remote

import (
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// Authenticator provides authentication for OCI registry operations.
type Authenticator interface {
	// Authenticate returns credentials for the given registry. Empty
	// credentials mean anonymous access.
	Authenticate(registry string) (username, password string, err error)
}

// StaticAuthenticator returns the same credentials for every registry.
type StaticAuthenticator struct {
	Username string
	Password string
}

func (a StaticAuthenticator) Authenticate(string) (string, string, error) {
	return a.Username, a.Password, nil
}

// KeychainAuthenticator resolves credentials from a keychain, by default the
// docker config keychain.
type KeychainAuthenticator struct {
	Keychain authn.Keychain
}

func NewDefaultAuthenticator() *KeychainAuthenticator {
	return &KeychainAuthenticator{Keychain: authn.DefaultKeychain}
}

func (a *KeychainAuthenticator) Authenticate(registry string) (string, string, error) {
	reg, err := name.NewRegistry(registry)
	if err != nil {
		return "", "", err
	}
	auth, err := a.Keychain.Resolve(reg)
	if err != nil {
		return "", "", err
	}
	cfg, err := auth.Authorization()
	if err != nil {
		return "", "", err
	}
	return cfg.Username, cfg.Password, nil
}

// authenticatorFor adapts an Authenticator into an authn.Authenticator for
// one registry.
func authenticatorFor(a Authenticator, registry string) authn.Authenticator {
	if a == nil {
		return nil
	}
	username, password, err := a.Authenticate(registry)
	if err != nil || username == "" {
		return nil
	}
	return &authn.Basic{Username: username, Password: password}
}
