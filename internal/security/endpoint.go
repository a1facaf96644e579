package security

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateBaseURL checks that a service base URL is an absolute http(s) URL
// without query, fragment or credentials.
func ValidateBaseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("URL must have a host")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not embed credentials")
	}
	if u.RawQuery != "" || u.Fragment != "" || strings.HasSuffix(rawURL, "?") {
		return fmt.Errorf("URL must not have a query or fragment")
	}

	return nil
}
