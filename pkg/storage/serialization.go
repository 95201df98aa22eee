// Package storage - Serialization helpers for BadgerDB.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/orneryd/minicl/pkg/minicl"
)

const profilePrefix = "profile/"

// recordKey orders records of one context by sequence number. The sequence is
// zero-padded so byte order matches numeric order.
func recordKey(contextID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", profilePrefix, contextID, seq))
}

func contextPrefix(contextID string) []byte {
	return []byte(profilePrefix + contextID + "/")
}

// contextOf extracts the context ID from a record key.
func contextOf(key []byte) string {
	rest := strings.TrimPrefix(string(key), profilePrefix)
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// serializeRecord converts a DispatchRecord to gob bytes for BadgerDB storage.
// gob keeps time.Duration and time.Time exact, unlike JSON.
func serializeRecord(rec *minicl.DispatchRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encoding dispatch record: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeRecord converts gob bytes back to a DispatchRecord.
func deserializeRecord(data []byte) (*minicl.DispatchRecord, error) {
	var rec minicl.DispatchRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding dispatch record: %w", err)
	}
	return &rec, nil
}
