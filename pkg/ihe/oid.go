package ihe

import "strings"

const (
	oidPrefix  = "urn:oid:"
	uuidPrefix = "urn:uuid:"
)

// NormalizeOID strips surrounding whitespace and any "urn:oid:" prefix
func NormalizeOID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= len(oidPrefix) && strings.EqualFold(v[:len(oidPrefix)], oidPrefix) {
		return v[len(oidPrefix):]
	}
	return v
}

// WrapOID returns v with exactly one "urn:oid:" prefix
func WrapOID(v string) string {
	v = NormalizeOID(v)
	if v == "" {
		return ""
	}
	return oidPrefix + v
}

// NormalizeUUID strips any "urn:uuid:" prefix
func NormalizeUUID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= len(uuidPrefix) && strings.EqualFold(v[:len(uuidPrefix)], uuidPrefix) {
		return v[len(uuidPrefix):]
	}
	return v
}

// WrapUUID returns v with exactly one "urn:uuid:" prefix
func WrapUUID(v string) string {
	v = NormalizeUUID(v)
	if v == "" {
		return ""
	}
	return uuidPrefix + v
}
