// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package outbound sends cross-gateway requests to remote communities.
//
// A Dispatcher fans one logical request out to many gateways at once,
// bounded by Config.Concurrency, and returns exactly one result per
// gateway. Each exchange is independent: it has its own timeout, its own
// retries and its own result, so a slow or broken gateway only affects its
// own entry.
//
// # Exchange
//
// For every gateway the dispatcher
//
//  1. resolves the endpoint through the directory when the gateway carries
//     no URL,
//  2. builds the envelope and attaches a fresh signed SAML assertion,
//  3. posts it with a per-call timeout, retrying transient failures with
//     exponential delay,
//  4. classifies the answer into a normalized result,
//  5. appends the result to the correlation store under the request id.
//
// # Failures
//
// Remote failures are data, not errors. A timeout becomes an http-error
// issue reading "timeout of Nms exceeded"; a refused connection or a 5xx
// answer becomes an http-error issue carrying the transport error text.
// ShouldReportOutboundError decides whether operators hear about it: known
// network noise (connection resets, 500/502 answers, Bad Gateway,
// timeouts) is only logged, anything else goes to the Reporter. Patient
// discovery answers with several matches, or a request to refine the
// query, are reported as well.
//
// Only retries of noise are attempted. A failure that would alert an
// operator is not retried.
package outbound
