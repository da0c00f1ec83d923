package service

import (
	"strings"
	"unicode/utf8"

	"ngmc-chatbot-go/pkg/hash"
)

// Input limits, counted in characters unless noted.
const (
	MaxMessageLength  = 1000
	MaxUserNameLength = 100
	MaxEmailLength    = 200
)

// ValidateMessage trims msg and checks it is non-empty and within MaxMessageLength.
func ValidateMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", invalid("Valid message is required")
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return "", invalid("Message too long (max 1000 chars)")
	}
	return msg, nil
}

// ValidateUserData checks the check-auth profile fields. Inputs are expected to be trimmed.
func ValidateUserData(userName, email, password string) error {
	if userName == "" {
		return invalid("Valid userName is required")
	}
	if email == "" {
		return invalid("Valid email is required")
	}
	if utf8.RuneCountInString(userName) > MaxUserNameLength {
		return invalid("Username too long (max 100 chars)")
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		return invalid("Email too long (max 200 chars)")
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return invalid("Invalid email format")
	}
	if password == "" {
		return invalid("Valid password is required")
	}
	if len(password) > hash.MaxPasswordBytes {
		return invalid("Password too long (max 72 bytes)")
	}
	return nil
}
