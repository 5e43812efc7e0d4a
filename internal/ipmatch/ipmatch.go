// Package ipmatch tests client IP addresses against whitelist patterns.
// A pattern is one of: "*" or "0.0.0.0/0" (allow all), a CIDR range, a
// dotted wildcard ("192.168.1.*", "10.0.?.1"), or an exact address.
package ipmatch

import (
	"encoding/binary"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Matches reports whether clientIP is covered by pattern. Malformed patterns
// never match and never panic: a bad whitelist entry fails closed.
func Matches(clientIP, pattern string) bool {
	if pattern == "*" || pattern == "0.0.0.0/0" {
		return true
	}
	if strings.Contains(pattern, "/") {
		return matchCIDR(clientIP, pattern)
	}
	if strings.ContainsAny(pattern, "*?") {
		return matchWildcard(clientIP, pattern)
	}
	return clientIP == pattern
}

func matchCIDR(clientIP, pattern string) bool {
	parts := strings.SplitN(pattern, "/", 2)
	network := net.ParseIP(parts[0])
	if network = network.To4(); network == nil {
		return false
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return false
	}
	ip := net.ParseIP(clientIP)
	if ip = ip.To4(); ip == nil {
		return false
	}

	mask := uint32(0)
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	ipBits := binary.BigEndian.Uint32(ip)
	netBits := binary.BigEndian.Uint32(network)
	return ipBits&mask == netBits&mask
}

func matchWildcard(clientIP, pattern string) bool {
	// Escape regex metacharacters (including the dots between octets),
	// then translate the wildcards back: * matches any run, ? exactly one.
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	re, err := regexp.Compile("^" + quoted + "$")
	if err != nil {
		return false
	}
	return re.MatchString(clientIP)
}

// ValidatePattern checks a whitelist pattern at key-creation time so invalid
// entries can never be persisted. It returns nil for valid patterns.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if pattern == "*" || pattern == "0.0.0.0/0" {
		return nil
	}

	if strings.Contains(pattern, "/") {
		parts := strings.SplitN(pattern, "/", 2)
		if ip := net.ParseIP(parts[0]); ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid CIDR network address: %q", parts[0])
		}
		prefix, err := strconv.Atoi(parts[1])
		if err != nil || prefix < 0 || prefix > 32 {
			return fmt.Errorf("CIDR prefix must be between 0 and 32: %q", parts[1])
		}
		return nil
	}

	if strings.ContainsAny(pattern, "*?") {
		segments := strings.Split(pattern, ".")
		if len(segments) > 4 {
			return fmt.Errorf("too many address segments: %q", pattern)
		}
		for _, seg := range segments {
			if seg == "" {
				return fmt.Errorf("empty address segment: %q", pattern)
			}
			if err := validateSegment(seg); err != nil {
				return fmt.Errorf("%w in %q", err, pattern)
			}
		}
		return nil
	}

	if ip := net.ParseIP(pattern); ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid IP address: %q", pattern)
	}
	return nil
}

func validateSegment(seg string) error {
	numeric := true
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
		case r == '*' || r == '?':
			numeric = false
		default:
			return fmt.Errorf("invalid character %q", r)
		}
	}
	if numeric {
		n, err := strconv.Atoi(seg)
		if err != nil || n > 255 {
			return fmt.Errorf("octet out of range %q", seg)
		}
	}
	return nil
}
