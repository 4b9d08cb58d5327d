// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pion/webrtc/v4"
)

// Token tags. Protocol constants: the first byte of every token.
const (
	// tagCompressed marks a deflate-compressed structured body.
	tagCompressed = 'Z'

	// tagRaw marks an uncompressed structured body.
	tagRaw = 'B'
)

// maxBodySize bounds the inflated structured body. A legitimate body is a
// few hundred bytes; anything larger is a corrupt or hostile stream.
const maxBodySize = 16 * 1024

var (
	// ErrMalformedDescription reports a local description that lacks a
	// field the token format requires. Fatal to the current handshake
	// attempt.
	ErrMalformedDescription = errors.New("description is missing required fields")

	// ErrInvalidToken reports a token whose framing cannot be reversed:
	// invalid base64, a corrupt compressed stream, or an empty input.
	// Recoverable — the remote side can be asked for another scan.
	ErrInvalidToken = errors.New("token cannot be decoded")

	// ErrUnsupportedToken reports a token with a recognized tag whose
	// structured body is out of bounds. Handled identically to
	// ErrInvalidToken by callers.
	ErrUnsupportedToken = errors.New("token body is not a supported record")
)

// Encode compresses a session description into a scannable token carrying
// at most candidateCap candidates. A negative cap is treated as zero.
//
// The serialized record is deflate-compressed and tagged 'Z'; if
// compression fails or does not shrink the body, the raw record is tagged
// 'B' instead. Compression trouble never aborts encoding.
func Encode(description webrtc.SessionDescription, candidateCap int) (string, error) {
	record, err := extractRecord(description.SDP, candidateCap)
	if err != nil {
		return "", err
	}

	body := record.marshal()
	if compressed, err := deflate(body); err == nil && len(compressed) < len(body) {
		return string(tagCompressed) + base64.StdEncoding.EncodeToString(compressed), nil
	}
	return string(tagRaw) + base64.StdEncoding.EncodeToString(body), nil
}

// Decode reverses Encode, reconstructing a full session description of
// the given kind (offer or answer). The leading byte selects the path:
// 'Z' inflates, 'B' does not, and anything else is treated as an
// unprefixed base64 payload from older builds.
//
// On any failure the returned description is the zero value: callers
// never see partially populated output.
func Decode(token string, kind webrtc.SDPType) (webrtc.SessionDescription, error) {
	if token == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var body []byte
	var tagged bool
	switch token[0] {
	case tagCompressed:
		compressed, err := base64.StdEncoding.DecodeString(token[1:])
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: base64: %v", ErrInvalidToken, err)
		}
		body, err = inflate(compressed)
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		tagged = true

	case tagRaw:
		decoded, err := base64.StdEncoding.DecodeString(token[1:])
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: base64: %v", ErrInvalidToken, err)
		}
		body = decoded
		tagged = true

	default:
		// Legacy path: the whole token is the base64 body, no tag byte.
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: base64: %v", ErrInvalidToken, err)
		}
		body = decoded
	}

	record, err := unmarshalRecord(body)
	if err != nil {
		if tagged {
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrUnsupportedToken, err)
		}
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	description, err := record.sessionDescription(kind)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return description, nil
}

// deflate compresses the body at the highest ratio. Token size is the
// whole point; encode runs once per handshake, so CPU cost is irrelevant.
func deflate(body []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := flate.NewWriter(&buffer, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate init: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("deflate write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buffer.Bytes(), nil
}

// inflate decompresses a 'Z' body, bounding the output so a hostile
// stream cannot balloon memory.
func inflate(compressed []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(compressed))
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("inflated body exceeds %d bytes", maxBodySize)
	}
	return body, nil
}
