// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package correlation joins outbound results to the request that produced
// them.
//
// The dispatcher calls Begin once per outbound request with the number of
// gateways it fans out to, then Append once per gateway as results land,
// in any order and concurrently. The API tier reads the record whenever it
// likes: Fetch returns whatever has arrived so far and Complete tells the
// reader whether every gateway has answered.
//
// A record is removed after a successful hand-off (Delete) or when it
// outlives the retention window, whichever comes first.
//
// MemoryStore serves single-instance deployments and tests. The MongoDB
// and Redis backends in internal/storage implement the same Store
// interface for deployments with more than one gateway process.
package correlation
