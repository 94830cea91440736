package models

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	dErrors "newsletter/pkg/domain-errors"
)

// maxNameGraphemes bounds a name in user-perceived characters, not bytes.
const maxNameGraphemes = 256

const forbiddenNameChars = `/()"<>\{}`

// SubscriberName is a validated display name.
//
// Invariants:
//   - not empty or whitespace-only
//   - at most 256 grapheme clusters
//   - contains none of / ( ) " < > \ { }
//
// Construct via ParseSubscriberName; the zero value is never valid.
type SubscriberName struct {
	value string
}

// ParseSubscriberName validates raw input. The original text is kept as-is;
// trimming only decides emptiness.
func ParseSubscriberName(raw string) (SubscriberName, error) {
	isBlank := strings.TrimSpace(raw) == ""
	isTooLong := uniseg.GraphemeClusterCount(raw) > maxNameGraphemes
	hasForbidden := strings.ContainsAny(raw, forbiddenNameChars)

	if isBlank || isTooLong || hasForbidden {
		return SubscriberName{}, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("%s is not a valid subscriber name.", raw))
	}
	return SubscriberName{value: raw}, nil
}

func (n SubscriberName) String() string {
	return n.value
}
