// Package emailaddr normalizes the customer email prefilled on checkouts.
package emailaddr

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	localPartRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9._+-]*[a-z0-9])?$`)
	hostnameRE  = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
)

// Canonicalize lowercases and validates address. Only plain ASCII
// addresses are accepted: no display name, no quoted local part.
func Canonicalize(address string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(address))
	if raw == "" {
		return "", fmt.Errorf("address is empty")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", fmt.Errorf("address must not contain spaces")
	}

	local, domain, ok := strings.Cut(raw, "@")
	if !ok || strings.Contains(domain, "@") || local == "" || domain == "" {
		return "", fmt.Errorf("invalid address: %q", address)
	}
	if !localPartRE.MatchString(local) {
		return "", fmt.Errorf("invalid local part: %q", local)
	}
	domain = strings.TrimSuffix(domain, ".")
	if !hostnameRE.MatchString(domain) {
		return "", fmt.Errorf("invalid domain: %q", domain)
	}
	return local + "@" + domain, nil
}
