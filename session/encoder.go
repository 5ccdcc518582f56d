package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	recordFormatVersionCurrent = 1

	flagRememberMe byte = 1 << 0
	flagHasPerson  byte = 1 << 1

	maxFieldLen = 65535
)

// Encode serializes rec. SessionID and Location are not part of the payload;
// the session id is the key suffix.
func Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	var flags byte
	if rec.RememberMe {
		flags |= flagRememberMe
	}
	if rec.PersonID != nil {
		flags |= flagHasPerson
	}
	buf.WriteByte(flags)

	personID := ""
	if rec.PersonID != nil {
		personID = *rec.PersonID
	}

	for _, field := range []string{rec.AccountID, personID, rec.Salt, rec.IP, rec.UserAgent} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.LastAccess.UnixNano()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by [Encode].
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &Record{RememberMe: flags&flagRememberMe != 0}

	fields := make([]string, 5)
	for i := range fields {
		fields[i], err = readString(reader)
		if err != nil {
			return nil, err
		}
	}
	rec.AccountID = fields[0]
	if flags&flagHasPerson != 0 {
		personID := fields[1]
		rec.PersonID = &personID
	}
	rec.Salt = fields[2]
	rec.IP = fields[3]
	rec.UserAgent = fields[4]

	var createdAt, lastAccess int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &lastAccess); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.LastAccess = time.Unix(0, lastAccess)

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return rec, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > maxFieldLen {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}
