// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentwire provides the data model and wire types for an
// agent-to-agent task exchange protocol: tasks, messages, parts, artifacts,
// streaming update events, and the JSON-RPC envelope they travel in.
//
// The server package builds the protocol engine on top of these types; the
// state package owns durable per-task state; the history package supplies
// pluggable context-history merge policies.
package agentwire

// Version is the protocol version implemented by this module.
const Version = "0.2.0"
