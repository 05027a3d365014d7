package index

import (
	"bytes"
	"strings"
)

// Key layout shared by the key-value backends. Parts are separated by a zero
// byte, which the tokenizer never emits.
//
//	r \0 definition \0 token \0 record    row
//	k \0 definition \0 record \0 token    per-record reverse row
//	d \0 definition \0 record             -> related id
//	D \0 definition \0 related \0 record  reverse dependency
const sep = "\x00"

// RowKey addresses one (definition, token, record) row.
func RowKey(definition, tok, recordID string) []byte {
	return []byte("r" + sep + definition + sep + tok + sep + recordID)
}

// RowTokenPrefix bounds rows of definition whose token starts with tok. With
// exact set, only rows of exactly tok are covered.
func RowTokenPrefix(definition, tok string, exact bool) []byte {
	p := "r" + sep + definition + sep + tok
	if exact {
		p += sep
	}
	return []byte(p)
}

// SplitRowKey returns the token and record id of a row key produced by RowKey.
func SplitRowKey(definition string, key []byte) (tok, recordID string, ok bool) {
	rest, found := bytes.CutPrefix(key, []byte("r"+sep+definition+sep))
	if !found {
		return "", "", false
	}
	tok, recordID, ok = strings.Cut(string(rest), sep)
	return tok, recordID, ok
}

// RecordKey addresses the reverse row of (definition, record, token).
func RecordKey(definition, recordID, tok string) []byte {
	return []byte("k" + sep + definition + sep + recordID + sep + tok)
}

// RecordPrefix covers every reverse row of one record; with an empty recordID
// it covers the whole definition.
func RecordPrefix(definition, recordID string) []byte {
	if recordID == "" {
		return []byte("k" + sep + definition + sep)
	}
	return []byte("k" + sep + definition + sep + recordID + sep)
}

// SplitRecordKey returns the record id and token of a reverse row key.
func SplitRecordKey(definition string, key []byte) (recordID, tok string, ok bool) {
	rest, found := bytes.CutPrefix(key, RecordPrefix(definition, ""))
	if !found {
		return "", "", false
	}
	return strings.Cut(string(rest), sep)
}

// DependencyKey addresses the related id stored for (definition, record).
func DependencyKey(definition, recordID string) []byte {
	return []byte("d" + sep + definition + sep + recordID)
}

// DependentKey addresses the reverse dependency (definition, related, record).
func DependentKey(definition, relatedID, recordID string) []byte {
	return []byte("D" + sep + definition + sep + relatedID + sep + recordID)
}

// DependentPrefix covers every record depending on relatedID.
func DependentPrefix(definition, relatedID string) []byte {
	return []byte("D" + sep + definition + sep + relatedID + sep)
}
