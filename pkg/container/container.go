// SPDX-License-Identifier: MPL-2.0

// Package container implements the ALIENMOD package container: a fixed
// 11-byte header followed by the payload.
//
//	offset 0   8 bytes  magic "ALIENMOD"
//	offset 8   2 bytes  format version, big-endian
//	offset 10  1 byte   encrypted flag (0x00 plaintext, 0x01 encrypted)
//	offset 11  payload  zip archive, sealed when the flag is set
//
// Unknown format versions decode successfully; interpreting their payload is
// the caller's concern.
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic identifies a package container.
	Magic = "ALIENMOD"

	// HeaderLen is the fixed header size in bytes.
	HeaderLen = len(Magic) + 2 + 1

	// CurrentVersion is the format version written by Encode.
	CurrentVersion uint16 = 1

	// Extension is the conventional file extension of a package.
	Extension = ".alienmodule"

	flagPlain     byte = 0x00
	flagEncrypted byte = 0x01
)

// ErrFormat is the sentinel wrapped by every FormatError.
var ErrFormat = errors.New("invalid package container")

type (
	// Header is the decoded fixed header.
	Header struct {
		Version   uint16
		Encrypted bool
	}

	// FormatError reports a container whose header cannot be decoded.
	FormatError struct {
		Reason string
	}
)

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", ErrFormat, e.Reason)
}

// Unwrap returns ErrFormat for errors.Is compatibility.
func (e *FormatError) Unwrap() error { return ErrFormat }

// Encode wraps payload in a CurrentVersion container.
func Encode(payload []byte, encrypted bool) []byte {
	return EncodeVersion(CurrentVersion, payload, encrypted)
}

// EncodeVersion wraps payload in a container of the given format version.
func EncodeVersion(version uint16, payload []byte, encrypted bool) []byte {
	h := Header{Version: version, Encrypted: encrypted}
	out := make([]byte, 0, HeaderLen+len(payload))
	out, _ = h.AppendBinary(out)
	return append(out, payload...)
}

// Decode splits a container into its header and payload. The payload aliases data.
func Decode(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderLen {
		return Header{}, nil, &FormatError{Reason: fmt.Sprintf("%d bytes is shorter than the %d-byte header", len(data), HeaderLen)}
	}
	if err := h.UnmarshalBinary(data[:HeaderLen]); err != nil {
		return Header{}, nil, err
	}
	return h, data[HeaderLen:], nil
}

// ReadHeader reads and decodes only the header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, &FormatError{Reason: "short header"}
		}
		return Header{}, err
	}
	var h Header
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return Header{}, err
	}
	return h, nil
}

// AppendBinary appends the encoded header to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	flag := flagPlain
	if h.Encrypted {
		flag = flagEncrypted
	}
	b = append(b, Magic...)
	b = binary.BigEndian.AppendUint16(b, h.Version)
	return append(b, flag), nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderLen))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. b must be exactly HeaderLen bytes.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) != HeaderLen {
		return &FormatError{Reason: fmt.Sprintf("header must be %d bytes, got %d", HeaderLen, len(b))}
	}
	if !bytes.Equal(b[:len(Magic)], []byte(Magic)) {
		return &FormatError{Reason: fmt.Sprintf("bad magic %q", b[:len(Magic)])}
	}

	var encrypted bool
	switch flag := b[HeaderLen-1]; flag {
	case flagPlain:
	case flagEncrypted:
		encrypted = true
	default:
		return &FormatError{Reason: fmt.Sprintf("encrypted flag 0x%02x is neither 0x00 nor 0x01", flag)}
	}

	*h = Header{
		Version:   binary.BigEndian.Uint16(b[len(Magic) : len(Magic)+2]),
		Encrypted: encrypted,
	}
	return nil
}
