package user

import "errors"

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Password string `json:"-"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func (r *RegisterRequest) Validate() error {
	switch {
	case r.Username == "":
		return errors.New("username is required")
	case len(r.Username) > 100:
		return errors.New("username is too long")
	case r.Password == "":
		return errors.New("password is required")
	case len(r.Password) > 256:
		return errors.New("password is too long")
	case r.Nickname == "":
		return errors.New("nickname is required")
	case len(r.Nickname) > 100:
		return errors.New("nickname is too long")
	}
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}
