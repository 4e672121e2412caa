// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package directory resolves remote gateways to their endpoint URLs.
//
// Outbound requests may name a gateway by home community id only. Before
// sending, the dispatcher asks a Directory for the participant's entry and
// picks the endpoint of the transaction at hand:
//
//	gw, err := directory.Resolve(ctx, dir, gw, ihe.DocumentQuery)
//
// Two implementations are provided. Static serves entries loaded from
// configuration. HTTPDirectory reads entries as JSON from a directory
// service at <base>/<home community id> and optionally caches them.
// Chain combines several directories, falling through on
// ErrGatewayNotFound only.
//
// Entries may carry an activation window; Resolve refuses entries outside
// it with ErrInactive.
package directory
