package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/authcore/ids"
)

const sessionFormatVersionCurrent = 1

const (
	maxShortField = 255
	maxLongField  = 1024
)

// ErrCorruptSession is returned when a stored record cannot be decoded.
var ErrCorruptSession = errors.New("session record corrupt")

// Encode serializes s. Oversized fields are an error, not truncated.
func Encode(s *Session) ([]byte, error) {
	if s.ID == "" || s.User.ID == "" {
		return nil, errors.New("session id and user id are required")
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return nil, errors.New("session expiresAt must be after createdAt")
	}

	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	short := []struct {
		name, value string
	}{
		{"sessionID", string(s.ID)},
		{"userID", string(s.User.ID)},
		{"email", s.User.Email},
		{"displayName", s.User.DisplayName},
		{"ipAddress", s.Device.IPAddress},
		{"fingerprint", s.Device.Fingerprint},
	}
	for _, f := range short {
		if len(f.value) > maxShortField {
			return nil, fmt.Errorf("%s too long", f.name)
		}
		buf.WriteByte(byte(len(f.value)))
		buf.WriteString(f.value)
	}

	if len(s.Device.UserAgent) > maxLongField {
		return nil, errors.New("userAgent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Device.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(s.Device.UserAgent)

	for _, ts := range []time.Time{s.CreatedAt, s.ExpiresAt, s.LastAccessedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}

	if s.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	s, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return s, nil
}

func decode(reader *bytes.Reader) (*Session, error) {
	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	var fields [6]string
	for i := range fields {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if fields[i], err = readString(reader, int(n)); err != nil {
			return nil, err
		}
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	if uaLen > maxLongField {
		return nil, errors.New("userAgent too long")
	}
	userAgent, err := readString(reader, int(uaLen))
	if err != nil {
		return nil, err
	}

	var stamps [3]int64
	for i := range stamps {
		if err := binary.Read(reader, binary.BigEndian, &stamps[i]); err != nil {
			return nil, err
		}
	}

	active, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if active > 1 {
		return nil, errors.New("invalid active flag")
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes")
	}

	s := &Session{
		ID: ids.SessionID(fields[0]),
		User: SessionUser{
			ID:          ids.UserID(fields[1]),
			Email:       fields[2],
			DisplayName: fields[3],
		},
		Device: Device{
			IPAddress:   fields[4],
			Fingerprint: fields[5],
			UserAgent:   userAgent,
		},
		CreatedAt:      time.UnixMilli(stamps[0]).UTC(),
		ExpiresAt:      time.UnixMilli(stamps[1]).UTC(),
		LastAccessedAt: time.UnixMilli(stamps[2]).UTC(),
		Active:         active == 1,
	}
	if s.ID == "" || s.User.ID == "" {
		return nil, errors.New("missing identifiers")
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return nil, errors.New("expiresAt not after createdAt")
	}
	return s, nil
}

func readString(r io.Reader, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
