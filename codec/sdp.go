// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Recognized attribute line prefixes. Credentials may appear at session
// or media level; the first occurrence wins.
const (
	prefixUfrag       = "a=ice-ufrag:"
	prefixPassword    = "a=ice-pwd:"
	prefixFingerprint = "a=fingerprint:"
	prefixSetup       = "a=setup:"
	prefixCandidate   = "a=candidate:"
)

// Synthesized candidate priorities, one fixed constant per kind. The
// original negotiated ICE priorities are discarded during encoding;
// these are the conventional browser values for component-1 UDP
// candidates and only need to order host above server-reflexive.
const (
	priorityHost            = 2122260223
	priorityServerReflexive = 1686052607
)

// extractRecord pulls the essential fields out of a line-oriented session
// description. A missing ufrag, password, or fingerprint makes the
// description unusable for this protocol and fails with
// ErrMalformedDescription. Candidates are filtered to host and
// server-reflexive kinds, in original order, capped at candidateCap.
func extractRecord(sdp string, candidateCap int) (*essentialRecord, error) {
	if candidateCap < 0 {
		candidateCap = 0
	}

	record := &essentialRecord{role: roleActpass}
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, prefixUfrag):
			if record.ufrag == "" {
				record.ufrag = strings.TrimPrefix(line, prefixUfrag)
			}
		case strings.HasPrefix(line, prefixPassword):
			if record.password == "" {
				record.password = strings.TrimPrefix(line, prefixPassword)
			}
		case strings.HasPrefix(line, prefixFingerprint):
			if record.fingerprint == "" {
				digest, err := normalizeFingerprint(strings.TrimPrefix(line, prefixFingerprint))
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedDescription, err)
				}
				record.fingerprint = digest
			}
		case strings.HasPrefix(line, prefixSetup):
			record.role = roleTag(strings.TrimPrefix(line, prefixSetup))
		case strings.HasPrefix(line, prefixCandidate):
			if len(record.candidates) >= candidateCap {
				continue
			}
			candidate, ok := parseCandidateLine(strings.TrimPrefix(line, prefixCandidate))
			if ok {
				record.candidates = append(record.candidates, candidate)
			}
		}
	}

	switch {
	case record.ufrag == "":
		return nil, fmt.Errorf("%w: no ice-ufrag attribute", ErrMalformedDescription)
	case record.password == "":
		return nil, fmt.Errorf("%w: no ice-pwd attribute", ErrMalformedDescription)
	case record.fingerprint == "":
		return nil, fmt.Errorf("%w: no fingerprint attribute", ErrMalformedDescription)
	}
	return record, nil
}

// normalizeFingerprint reduces "sha-256 AB:CD:..." to the bare lower-case
// hex digest. The algorithm label is discarded — the codec assumes SHA-256
// throughout and Decode reconstitutes the label by format. A digest that is
// not 32 byte-pairs cannot be round-tripped under that assumption and is
// rejected rather than silently mis-encoded.
func normalizeFingerprint(value string) (string, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return "", fmt.Errorf("fingerprint attribute %q: want algorithm and digest", value)
	}
	digest := strings.ToLower(strings.ReplaceAll(parts[1], ":", ""))
	if err := validateFingerprintHex(digest); err != nil {
		return "", err
	}
	return digest, nil
}

// parseCandidateLine parses the value of an a=candidate attribute:
//
//	foundation component transport priority address port typ kind ...
//
// Candidates of unsupported kinds, and lines that do not parse, are
// dropped — candidate fidelity is already a non-goal of the encoding.
func parseCandidateLine(value string) (CandidateRecord, bool) {
	fields := strings.Fields(value)
	if len(fields) < 8 || fields[6] != "typ" {
		return CandidateRecord{}, false
	}

	var kind CandidateKind
	switch fields[7] {
	case "host":
		kind = KindHost
	case "srflx":
		kind = KindServerReflexive
	default:
		return CandidateRecord{}, false
	}

	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return CandidateRecord{}, false
	}

	foundation := fields[0]
	if len(foundation) > maxFoundation {
		foundation = foundation[:maxFoundation]
	}

	candidate := CandidateRecord{
		Foundation: foundation,
		Address:    fields[4],
		Port:       port,
		Kind:       kind,
	}
	if candidate.validate() != nil {
		return CandidateRecord{}, false
	}
	return candidate, true
}

// sessionDescription reconstructs a full data-channel description around
// the record. All boilerplate is synthesized by format: a fresh origin
// line, a single BUNDLE'd application m-section, and fixed SCTP
// attributes. The setup role is derived from the requested kind — an
// offer always advertises actpass and an answer active — not from the
// stored role tag, which matches the fixed roles of the handshake.
func (r *essentialRecord) sessionDescription(kind webrtc.SDPType) (webrtc.SessionDescription, error) {
	var setup string
	switch kind {
	case webrtc.SDPTypeOffer:
		setup = "actpass"
	case webrtc.SDPTypeAnswer:
		setup = "active"
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description kind %q", kind)
	}

	var b strings.Builder
	writeLine := func(line string) {
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	writeLine("v=0")
	writeLine(fmt.Sprintf("o=- %s 2 IN IP4 127.0.0.1", newSessionID()))
	writeLine("s=-")
	writeLine("t=0 0")
	writeLine("a=group:BUNDLE 0")
	writeLine("a=msid-semantic: WMS")
	writeLine("m=application 9 UDP/DTLS/SCTP webrtc-datachannel")
	writeLine("c=IN IP4 0.0.0.0")
	writeLine(prefixUfrag + r.ufrag)
	writeLine(prefixPassword + r.password)
	writeLine(prefixFingerprint + "sha-256 " + formatFingerprint(r.fingerprint))
	writeLine(prefixSetup + setup)
	writeLine("a=mid:0")
	writeLine("a=sctp-port:5000")
	writeLine("a=max-message-size:262144")
	for _, candidate := range r.candidates {
		writeLine(prefixCandidate + formatCandidateLine(candidate))
	}

	return webrtc.SessionDescription{Type: kind, SDP: b.String()}, nil
}

// formatFingerprint re-inserts the colon separators and upper-cases the
// digest, the conventional SDP presentation.
func formatFingerprint(digest string) string {
	upper := strings.ToUpper(digest)
	pairs := make([]string, 0, len(upper)/2)
	for i := 0; i+1 < len(upper); i += 2 {
		pairs = append(pairs, upper[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// formatCandidateLine renders one candidate with its synthesized priority.
// Server-reflexive candidates carry a placeholder related address, which
// connectivity checking does not use.
func formatCandidateLine(c CandidateRecord) string {
	switch c.Kind {
	case KindServerReflexive:
		return fmt.Sprintf("%s 1 udp %d %s %d typ srflx raddr 0.0.0.0 rport 0",
			c.Foundation, priorityServerReflexive, c.Address, c.Port)
	default:
		return fmt.Sprintf("%s 1 udp %d %s %d typ host",
			c.Foundation, priorityHost, c.Address, c.Port)
	}
}

// newSessionID generates a fresh origin session id. The value is
// irrelevant to the peer; it only needs to look like a plausible 63-bit
// decimal.
func newSessionID() string {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// crypto/rand failure on a supported platform is unrecoverable,
		// but the id does not need to be unpredictable.
		return "2890844526"
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(raw[:])>>1, 10)
}
