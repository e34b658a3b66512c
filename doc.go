// Package authflow provides a multi-stage credential validation engine:
// primary credential verification, two-factor policy resolution and
// verification, brute-force throttling, device identity resolution, and
// organization SSO mandate enforcement, with Redis-backed single-use email
// codes and remember tokens.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [Engine], [Builder], [Config],
// the result and record value types, and the provider interfaces callers
// implement ([PrincipalProvider], [DeviceProvider], [OrganizationProvider],
// [Mailer]). Pipeline coordination (challenge building, failure counting,
// ability caching, audit dispatch) is unexported.
//
// # What this package must NOT do
//
//   - Issue access or refresh tokens. [Engine.Authenticate] returns a
//     decision; the caller's token service acts on it.
//   - Persist principals, devices, or organizations itself. All persistence
//     goes through the caller-supplied providers; the engine only owns its
//     Redis keyspaces for email codes and ability snapshots.
//   - Reveal in any rejection which validation stage failed. Terminal error
//     results carry fixed generic messages only.
//
// # Rejection timing
//
// Every credential and second-factor rejection shares one fixed delay
// ([BruteForceConfig.FailureDelay]), including unknown-principal rejections,
// so response timing does not distinguish the failure cause.
package authflow
