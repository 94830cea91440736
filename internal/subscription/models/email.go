package models

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	dErrors "newsletter/pkg/domain-errors"
)

// SubscriberEmail is a syntactically valid bare mailbox (local@domain).
type SubscriberEmail struct {
	value string
}

// ParseSubscriberEmail accepts an RFC 5322 addr-spec whose domain has at least
// one label separator. Display-name forms such as "Ursula <u@example.com>"
// are rejected: the value is used verbatim as a recipient and a lookup key.
func ParseSubscriberEmail(raw string) (SubscriberEmail, error) {
	invalid := dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("%s is not a valid subscriber email.", raw))

	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return SubscriberEmail{}, invalid
	}
	at := strings.LastIndexByte(raw, '@')
	if at <= 0 || !validDomain(raw[at+1:]) {
		return SubscriberEmail{}, invalid
	}
	return SubscriberEmail{value: raw}, nil
}

func validDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}

func (e SubscriberEmail) String() string {
	return e.value
}

// Redacted keeps the first character of the local part and the domain.
func (e SubscriberEmail) Redacted() string {
	at := strings.LastIndexByte(e.value, '@')
	if at <= 0 {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(e.value)
	return string(first) + "***" + e.value[at:]
}

// LogValue keeps full addresses out of logs.
func (e SubscriberEmail) LogValue() slog.Value {
	return slog.StringValue(e.Redacted())
}
