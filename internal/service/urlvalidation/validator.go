// Package urlvalidation parses, canonicalizes and screens submitted
// URLs. The canonical form is the sole key for duplicate detection, so
// every transform here must be idempotent: validating an already
// canonical URL returns it byte-identical.
//
// The SSRF policy is a parse-time textual check. Hostnames are matched
// against the private address ranges and the internal-host blocklist
// without a DNS lookup; the outbound fetcher is the second line of
// defense for names that resolve privately later.
package urlvalidation

import (
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	apperrors "curio-backend/internal/errors"
)

// Canonical is the validated, canonicalized form of a submitted URL.
type Canonical struct {
	value string
	host  string
	path  string
}

// String returns the canonical URL.
func (c Canonical) String() string { return c.value }

// Host returns the lowercased host with any leading "www." removed and
// without a port.
func (c Canonical) Host() string { return c.host }

// Path returns the canonical path.
func (c Canonical) Path() string { return c.path }

// IsZero reports whether the value is unset.
func (c Canonical) IsZero() bool { return c.value == "" }

// Equal reports byte equality of the canonical forms, the system's
// definition of URL equivalence.
func (c Canonical) Equal(other Canonical) bool { return c.value == other.value }

// Options tunes the validator. The zero value enables every protection.
type Options struct {
	// DisableHTTPSUpgrade keeps http URLs on http instead of rewriting
	// the scheme to https.
	DisableHTTPSUpgrade bool
}

// Validator screens and canonicalizes URLs.
type Validator struct {
	opts Options
}

// NewValidator creates a validator with the given options.
func NewValidator(opts Options) *Validator {
	return &Validator{opts: opts}
}

// hasScheme matches any URI scheme prefix, including schemes without
// an authority such as mailto:, so those fail the scheme check instead
// of being silently rewritten to https.
var hasScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// trackingParams are stripped from every query string. Prefix entries
// end with '*' and match any key sharing the prefix.
var trackingParams = []string{
	"utm_*",
	"gclid",
	"fbclid",
	"msclkid",
	"mc_cid",
	"mc_eid",
	"igshid",
	"ref_src",
	"spm",
	"yclid",
	"_hsenc",
	"_hsmi",
	"vero_id",
	"wickedid",
	"twclid",
	"s_kwcid",
}

// blockedPorts are services an import must never be able to probe.
var blockedPorts = map[int]struct{}{
	22:    {},
	23:    {},
	25:    {},
	110:   {},
	143:   {},
	445:   {},
	3306:  {},
	5432:  {},
	6379:  {},
	27017: {},
}

// privateRanges are the address blocks the SSRF policy rejects.
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHosts are cloud metadata and internal service names rejected
// outright.
var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata":                 {},
	"instance-data":            {},
}

// blockedHostSuffixes reject whole internal namespaces.
var blockedHostSuffixes = []string{
	".internal",
	".local",
	".localhost",
}

// multiSlash collapses repeated path separators.
var multiSlash = regexp.MustCompile(`/{2,}`)

// Validate canonicalizes raw and enforces the SSRF policy. The result
// is stable: Validate(Validate(x)) equals Validate(x).
func (v *Validator) Validate(raw string) (Canonical, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Canonical{}, apperrors.Validation(apperrors.CodeURLEmpty, "URL is required").
			WithOperation("ValidateURL").
			Build()
	}

	if !hasScheme.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Canonical{}, apperrors.Validation(apperrors.CodeURLInvalid, "URL could not be parsed").
			WithOperation("ValidateURL").
			WithCause(err).
			Build()
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return Canonical{}, apperrors.Validation(apperrors.CodeURLInvalidProtocol, "only http and https URLs are accepted").
			WithOperation("ValidateURL").
			WithContext("scheme", u.Scheme).
			Build()
	}

	if u.User != nil {
		return Canonical{}, apperrors.Forbidden(apperrors.CodeSSRFBlocked, "URLs with embedded credentials are not accepted").
			WithOperation("ValidateURL").
			Build()
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Canonical{}, apperrors.Validation(apperrors.CodeURLInvalid, "URL has no host").
			WithOperation("ValidateURL").
			Build()
	}

	if err := checkHost(host); err != nil {
		return Canonical{}, err
	}

	if port := u.Port(); port != "" {
		n, convErr := strconv.Atoi(port)
		if convErr != nil {
			return Canonical{}, apperrors.Validation(apperrors.CodeURLInvalid, "URL has a malformed port").
				WithOperation("ValidateURL").
				Build()
		}
		if _, blocked := blockedPorts[n]; blocked {
			return Canonical{}, apperrors.Forbidden(apperrors.CodeSSRFBlocked, "URL targets a blocked service port").
				WithOperation("ValidateURL").
				WithContext("port", n).
				Build()
		}
	}

	if u.Scheme == "http" && !v.opts.DisableHTTPSUpgrade {
		u.Scheme = "https"
	}

	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return Canonical{}, apperrors.Validation(apperrors.CodeURLInvalid, "URL has no host").
			WithOperation("ValidateURL").
			Build()
	}
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	stripTracking(u)

	if u.Path != "" {
		p := multiSlash.ReplaceAllString(u.Path, "/")
		if len(p) > 1 {
			p = strings.TrimSuffix(p, "/")
		}
		u.Path = p
		u.RawPath = ""
	}

	// url.String omits empty fragments, which is exactly the contract:
	// a bare trailing '#' disappears while real fragments survive.
	return Canonical{value: u.String(), host: host, path: u.Path}, nil
}

// FromStored rebuilds a Canonical from a value the system itself wrote,
// such as a node's canonical URL read back from the store. The input is
// trusted: no screening or rewriting happens, only host and path are
// re-derived for the accessors.
func FromStored(value string) Canonical {
	u, err := url.Parse(value)
	if err != nil {
		return Canonical{value: value}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return Canonical{value: value, host: host, path: u.Path}
}

// checkHost applies the private-range and blocklist policy to a
// lowercased hostname.
func checkHost(host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, r := range privateRanges {
			if r.Contains(addr) {
				return apperrors.Forbidden(apperrors.CodeSSRFBlocked, "URL targets a private or reserved address").
					WithOperation("ValidateURL").
					WithContext("host", host).
					Build()
			}
		}
		return nil
	}

	bare := strings.TrimPrefix(host, "www.")
	if _, blocked := blockedHosts[bare]; blocked {
		return apperrors.Forbidden(apperrors.CodeSSRFBlocked, "URL targets an internal hostname").
			WithOperation("ValidateURL").
			WithContext("host", host).
			Build()
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(bare, suffix) {
			return apperrors.Forbidden(apperrors.CodeSSRFBlocked, "URL targets an internal hostname").
				WithOperation("ValidateURL").
				WithContext("host", host).
				Build()
		}
	}
	return nil
}

// stripTracking removes tracking parameters. Remaining keys re-encode
// in sorted order so query permutations share one canonical form.
func stripTracking(u *url.URL) {
	if u.RawQuery == "" {
		return
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		// Leave an unparseable query untouched rather than corrupt it.
		return
	}
	for key := range q {
		if isTrackingParam(key) {
			delete(q, key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(lower, p[:len(p)-1]) {
				return true
			}
		} else if lower == p {
			return true
		}
	}
	return false
}
