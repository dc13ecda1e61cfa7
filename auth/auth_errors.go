package auth

import "errors"

var (
	MissingUsernameErr  = errors.New("username is required")
	MissingPasswordErr  = errors.New("password is required")
	InvalidEmailErr     = errors.New("invalid email address")
	PasswordTooShortErr = errors.New("password too short")
)
