// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sync implements the webhook-driven ticket synchronization engine
// between Linear and GitHub.
//
// Tickets opt into mirroring through a designated public label: applying it
// creates a mirrored GitHub issue and a correlation row, removing it deletes
// the correlation. While mirrored, field changes on the ticket (title,
// description, labels, state, assignee, priority, estimate, cycle/project)
// propagate to the GitHub issue, and GitHub comments, edits, and state
// changes propagate back.
//
// # Event Model
//
// Each webhook delivery is processed as an independent, request-scoped unit
// of work ([task]) with its own deadline, platform clients bound to the
// matched sync configuration's credentials, and a scoped logger. Nothing is
// shared across events except the correlation store. Update events are
// decomposed into typed field-change variants (see [FieldChange]) and
// dispatched in a fixed order, with label changes first since they create
// or delete the correlation itself.
//
// # Loop Suppression
//
// Mirrored writes must not bounce back as new events. Entities the engine
// creates on Linear carry synthetic IDs with a recognizable suffix (see
// [MakeSyntheticID]); content the engine posts on either platform carries a
// provenance footer. Incoming events bearing either marker are skipped.
//
// # Failure Model
//
// Fatal conditions return [*APIError] with an HTTP-like status; cosmetic
// mutations (titles, labels that merely decorate) log their failure and let
// the event succeed. There are no retries: idempotence comes from
// correlation lookups, not redelivery handling.
package sync
