package authcore

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/authcore/ids"
)

const maxDisplayNameLength = 128

// checkPassword applies the password policy and returns a field message, or
// "" when the password is acceptable.
func (e *Engine) checkPassword(password string) string {
	cfg := e.config.Password
	if utf8.RuneCountInString(password) < cfg.MinLength {
		return fmt.Sprintf("must be at least %d characters", cfg.MinLength)
	}
	if len(password) > cfg.MaxBytes {
		return fmt.Sprintf("must be at most %d bytes", cfg.MaxBytes)
	}

	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return "must contain at least one letter and one digit"
	}
	return ""
}

func (e *Engine) validateRegister(req RegisterRequest) (ids.Email, string, error) {
	fields := make(map[string]string)

	email, err := ids.ParseEmail(req.Email)
	if err != nil {
		fields["email"] = "must be a valid email address"
	}
	if msg := e.checkPassword(req.Password); msg != "" {
		fields["password"] = msg
	}

	name := strings.TrimSpace(req.DisplayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		fields["displayName"] = fmt.Sprintf("must be at most %d characters", maxDisplayNameLength)
	}

	if len(fields) > 0 {
		return "", "", validationError(fields)
	}
	return email, name, nil
}

// validateLogin only checks shape. Policy is not applied so that accounts
// created under an older policy can still sign in.
func validateLogin(req LoginRequest) (ids.Email, error) {
	fields := make(map[string]string)

	email, err := ids.ParseEmail(req.Email)
	if err != nil {
		fields["email"] = "must be a valid email address"
	}
	if req.Password == "" {
		fields["password"] = "is required"
	}

	if len(fields) > 0 {
		return "", validationError(fields)
	}
	return email, nil
}
