// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR serialization layer for checkpoint
// artifacts. Encoding is Core Deterministic (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items --
// the same logical data always produces identical bytes, so checkpoint
// hashes are stable.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Checkpoint payloads only use string map keys. When decoding
		// into an any-typed target the CBOR default map type is
		// map[interface{}]interface{}, which encoding/json and most Go
		// code cannot consume; force map[string]any instead.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
