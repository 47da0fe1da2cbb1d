// Copyright 2026 The Depotkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides depotkit's standard CBOR encoding
// configuration.
//
// Verification reports are written as CBOR so downstream tooling can
// consume them without parsing CLI text. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items. Same logical data
// always produces identical bytes, so two runs over the same backup
// yield byte-identical reports.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (report files):
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
package codec
