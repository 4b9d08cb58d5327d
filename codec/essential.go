// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultCandidateCap bounds the number of candidates carried in a token.
// Four candidates keep the encoded token within the capacity of a
// version-10 optical code at medium error correction while still covering
// the common host + server-reflexive layouts.
const DefaultCandidateCap = 4

// maxFoundation is the length candidate foundations are truncated to
// before serialization. Foundations only disambiguate candidates within
// one description, so the truncation collision risk is accepted.
const maxFoundation = 8

// formatVersion is the structured-body version tag. Protocol constant.
const formatVersion = "1"

// CandidateKind classifies a candidate endpoint. Only the two kinds that
// survive encoding are representable; relay and peer-reflexive candidates
// are dropped by the encoder.
type CandidateKind byte

const (
	// KindHost is a directly attached local address.
	KindHost CandidateKind = 'h'

	// KindServerReflexive is a NAT-mapped address learned via STUN.
	KindServerReflexive CandidateKind = 's'
)

// String returns the SDP "typ" value for the kind.
func (k CandidateKind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindServerReflexive:
		return "srflx"
	default:
		return fmt.Sprintf("unknown(%c)", byte(k))
	}
}

// CandidateRecord is one reachable network endpoint in compact form.
type CandidateRecord struct {
	// Foundation is the candidate's foundation identifier, truncated to
	// at most eight characters.
	Foundation string

	// Address is the IP literal, in text form.
	Address string

	// Port is the transport port, 1–65535.
	Port int

	// Kind is the candidate kind.
	Kind CandidateKind
}

// validate checks the record against the documented wire-format bounds.
func (c CandidateRecord) validate() error {
	if c.Foundation == "" || len(c.Foundation) > maxFoundation {
		return fmt.Errorf("foundation %q out of bounds", c.Foundation)
	}
	if strings.ContainsAny(c.Foundation, fieldSep+tupleSep+candidateSep) {
		return fmt.Errorf("foundation %q contains a delimiter", c.Foundation)
	}
	if net.ParseIP(c.Address) == nil {
		return fmt.Errorf("address %q is not an IP literal", c.Address)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Kind != KindHost && c.Kind != KindServerReflexive {
		return fmt.Errorf("unsupported candidate kind %q", byte(c.Kind))
	}
	return nil
}

// Role tags stored in the structured body. The inverse mapping defaults
// to 'a' for any unrecognized tag.
const (
	roleActpass = 'a'
	rolePassive = 'p'
	roleActive  = 'h'
)

// roleTag maps an SDP setup attribute value to its one-character tag.
// Unrecognized values (including a missing setup line) map to actpass.
func roleTag(setup string) byte {
	switch setup {
	case "actpass":
		return roleActpass
	case "passive":
		return rolePassive
	case "active":
		return roleActive
	default:
		return roleActpass
	}
}

// setupFromTag is the inverse of roleTag.
func setupFromTag(tag byte) string {
	switch tag {
	case rolePassive:
		return "passive"
	case roleActive:
		return "active"
	default:
		return "actpass"
	}
}

// Structured-body delimiters. Protocol constants: ICE credentials and
// foundations draw from the ice-char alphabet and IP literals from
// hex/dotted notation, so none of these bytes can appear inside a field.
const (
	fieldSep     = "|"
	tupleSep     = ","
	candidateSep = ";"
)

// essentialRecord is the compact intermediate form between a session
// description and a token body. Created transiently during Encode and
// Decode, never persisted.
type essentialRecord struct {
	ufrag       string
	password    string
	fingerprint string // 64 lower-case hex characters, separators stripped
	role        byte   // 'a', 'p', or 'h'
	candidates  []CandidateRecord
}

// marshal serializes the record to the structured body form:
//
//	1|ufrag|pwd|fingerprint|r|f,ip,port,k;f,ip,port,k
func (r *essentialRecord) marshal() []byte {
	var b strings.Builder
	b.WriteString(formatVersion)
	b.WriteString(fieldSep)
	b.WriteString(r.ufrag)
	b.WriteString(fieldSep)
	b.WriteString(r.password)
	b.WriteString(fieldSep)
	b.WriteString(r.fingerprint)
	b.WriteString(fieldSep)
	b.WriteByte(r.role)
	b.WriteString(fieldSep)
	for i, c := range r.candidates {
		if i > 0 {
			b.WriteString(candidateSep)
		}
		b.WriteString(c.Foundation)
		b.WriteString(tupleSep)
		b.WriteString(c.Address)
		b.WriteString(tupleSep)
		b.WriteString(strconv.Itoa(c.Port))
		b.WriteString(tupleSep)
		b.WriteByte(byte(c.Kind))
	}
	return []byte(b.String())
}

// unmarshalRecord parses a structured body back into an essentialRecord.
// Every field is bounds-checked; any violation fails the whole parse so
// that callers never observe partial data.
func unmarshalRecord(body []byte) (*essentialRecord, error) {
	fields := strings.Split(string(body), fieldSep)
	if len(fields) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}
	if fields[0] != formatVersion {
		return nil, fmt.Errorf("unsupported format version %q", fields[0])
	}

	record := &essentialRecord{
		ufrag:    fields[1],
		password: fields[2],
	}
	if record.ufrag == "" {
		return nil, fmt.Errorf("empty ufrag")
	}
	if record.password == "" {
		return nil, fmt.Errorf("empty password")
	}

	fingerprint := strings.ToLower(fields[3])
	if err := validateFingerprintHex(fingerprint); err != nil {
		return nil, err
	}
	record.fingerprint = fingerprint

	if len(fields[4]) != 1 {
		return nil, fmt.Errorf("role tag %q is not a single character", fields[4])
	}
	// Unrecognized tags decode as actpass rather than failing: the stored
	// role is informational and the handshake derives the output role from
	// the expected description kind.
	switch tag := fields[4][0]; tag {
	case roleActpass, rolePassive, roleActive:
		record.role = tag
	default:
		record.role = roleActpass
	}

	if fields[5] != "" {
		for _, tuple := range strings.Split(fields[5], candidateSep) {
			candidate, err := parseCandidateTuple(tuple)
			if err != nil {
				return nil, err
			}
			record.candidates = append(record.candidates, candidate)
		}
	}
	return record, nil
}

// parseCandidateTuple parses one "foundation,ip,port,kind" tuple.
func parseCandidateTuple(tuple string) (CandidateRecord, error) {
	parts := strings.Split(tuple, tupleSep)
	if len(parts) != 4 {
		return CandidateRecord{}, fmt.Errorf("candidate tuple %q: expected 4 parts, got %d", tuple, len(parts))
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return CandidateRecord{}, fmt.Errorf("candidate tuple %q: port: %w", tuple, err)
	}
	if len(parts[3]) != 1 {
		return CandidateRecord{}, fmt.Errorf("candidate tuple %q: kind is not a single character", tuple)
	}
	candidate := CandidateRecord{
		Foundation: parts[0],
		Address:    parts[1],
		Port:       port,
		Kind:       CandidateKind(parts[3][0]),
	}
	if err := candidate.validate(); err != nil {
		return CandidateRecord{}, fmt.Errorf("candidate tuple %q: %w", tuple, err)
	}
	return candidate, nil
}

// validateFingerprintHex checks that the digest is exactly 32 lower-hex
// byte-pairs, the shape of a SHA-256 digest with separators stripped.
func validateFingerprintHex(digest string) error {
	if len(digest) != 64 {
		return fmt.Errorf("fingerprint digest has %d hex characters, want 64", len(digest))
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("fingerprint digest contains non-hex character %q", c)
		}
	}
	return nil
}
