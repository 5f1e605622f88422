package credential

import (
	"context"
	"errors"
	"fmt"
)

const (
	ACCESS_TOKEN  string = "access_token"
	REFRESH_TOKEN string = "refresh_token"
)

var ErrStore = errors.New("credential store failure")

// Store is the durable key/value mapping holding the user's tokens.
// A missing key reads as "" with a nil error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c Credential) LoggedIn() bool {
	return c.AccessToken != ""
}

func Load(ctx context.Context, s Store) (Credential, error) {
	var c Credential
	var err error
	c.AccessToken, err = s.Get(ctx, ACCESS_TOKEN)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read %s: %v", ErrStore, ACCESS_TOKEN, err)
	}
	c.RefreshToken, err = s.Get(ctx, REFRESH_TOKEN)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read %s: %v", ErrStore, REFRESH_TOKEN, err)
	}
	return c, nil
}

// Save stores both tokens, as returned by a login.
func Save(ctx context.Context, s Store, c Credential) error {
	if err := s.Set(ctx, ACCESS_TOKEN, c.AccessToken); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStore, ACCESS_TOKEN, err)
	}
	if err := s.Set(ctx, REFRESH_TOKEN, c.RefreshToken); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStore, REFRESH_TOKEN, err)
	}
	return nil
}

// SaveRefreshed persists the result of a token refresh. An empty refresh
// token leaves the stored one untouched.
func SaveRefreshed(ctx context.Context, s Store, accessToken, refreshToken string) error {
	if err := s.Set(ctx, ACCESS_TOKEN, accessToken); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStore, ACCESS_TOKEN, err)
	}
	if refreshToken == "" {
		return nil
	}
	if err := s.Set(ctx, REFRESH_TOKEN, refreshToken); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStore, REFRESH_TOKEN, err)
	}
	return nil
}

func Clear(ctx context.Context, s Store) error {
	if err := s.Delete(ctx, ACCESS_TOKEN); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStore, ACCESS_TOKEN, err)
	}
	if err := s.Delete(ctx, REFRESH_TOKEN); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStore, REFRESH_TOKEN, err)
	}
	return nil
}
