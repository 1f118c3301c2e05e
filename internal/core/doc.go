// Package core provides the business logic for catalog imports and exports.
//
// It holds all domain logic independent of any transport. The web server,
// the command line tool and tests drive it through [Service].
//
// # Entity Registry
//
// Entity types are registered at init time from the embedded schema file.
// Each [EntityDefinition] carries the field rules used for validation and
// templates, and for flat entities the payload builder and create call:
//
//	core.Register(EntityDefinition{
//	    Schema:       schema,
//	    BuildPayload: buildVariant,
//	    Create:       createVariant,
//	})
//
// The hierarchy entity has no create call of its own; its rows are committed
// by [HierarchyResolver], which creates or finds each parent once.
//
// # Import Flow
//
//  1. [Parse] decodes the file (BOM, Latin-1, Windows-1252) and maps rows to
//     headers.
//  2. [Validate] checks every rule on every row. Any error stops the run
//     before a single entity is created; duplicates only warn.
//  3. [Executor] or [HierarchyResolver] commits rows one create call each,
//     with a small bounded concurrency. Row failures are collected and never
//     stop the run.
//  4. Progress is forwarded to subscribers via [Service.SubscribeProgress]
//     and sampled into the operation log.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - PAR001-PAR005: Parse errors (empty file, encoding, delimiter)
//   - VAL001-VAL004: Validation errors
//   - RUN001-RUN006: Run errors (cancelled, timeout, not found, busy)
//   - EXP001: Export errors
//   - LOG001-LOG003: Operation log errors
//   - COM001-COM005: Catalog API errors
package core
