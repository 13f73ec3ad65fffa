package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// SessionHeader carries the storefront session on REST requests.
const SessionHeader = "Storefront-Session"

// ParseSessionHeader extracts the identity from a Storefront-Session header.
// Format: user="u-123", token="abc" (RFC 8941 Dictionary).
//
// Examples:
//   - user="u-123", token="abc" → {u-123 abc}
//   - user="u-123"             → {u-123 ""}
//
// Returns error if header is empty, malformed, or missing the user key.
func ParseSessionHeader(header string) (Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Identity{}, errors.New("empty Storefront-Session header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Identity{}, fmt.Errorf("invalid Storefront-Session header: %w", err)
	}

	user, err := stringMember(dict, "user")
	if err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(user) == "" {
		return Identity{}, errors.New("user value must not be empty")
	}

	id := Identity{UserID: user}
	if _, ok := dict.Get("token"); ok {
		token, err := stringMember(dict, "token")
		if err != nil {
			return Identity{}, err
		}
		id.Token = token
	}
	return id, nil
}

func stringMember(dict *httpsfv.Dictionary, name string) (string, error) {
	member, ok := dict.Get(name)
	if !ok {
		return "", fmt.Errorf("%s key not found in Storefront-Session header", name)
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", name)
	}
	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", name)
	}
	return s, nil
}

// FormatSessionHeader renders id as a Storefront-Session header value.
func FormatSessionHeader(id Identity) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("user value must not be empty")
	}
	dict := httpsfv.NewDictionary()
	dict.Add("user", httpsfv.NewItem(id.UserID))
	if id.Token != "" {
		dict.Add("token", httpsfv.NewItem(id.Token))
	}
	return httpsfv.Marshal(dict)
}
