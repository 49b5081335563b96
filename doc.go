// Package auth tracks who is signed in to resmo.
//
// Session manager:
//   - SessionManager subscribes to an IdentityProvider and keeps one Session
//     snapshot: the verified identity, the display name resolved from the
//     ProfileStore and a loading flag that stays set until the first
//     notification settles.
//   - Unverified identities are treated as signed out. Profile lookups that
//     complete after a newer notification, or after Cancel, are discarded.
//   - Watch delivers coalesced snapshots; RequireAuthenticated runs an action
//     only for a signed in identity.
//
// Route gating:
//   - Gate and GatePublic turn a snapshot into a render, redirect or pending
//     decision for protected and public pages.
//
// Tokens:
//   - TokenService mints the id tokens the resume backend expects and
//     validates them.
//
// Activity sinks:
//   - ActivitySink receives sign in, sign out and profile resolution events.
//     Sinks run best-effort (errors are logged) so they never block a
//     session update.
package auth
