// Package auth mirrors an external identity provider session and decides
// which view of the Ace book front end is shown.
//
// Session mirror:
//   - SessionMirror fetches the provider parameters (apiKey, authDomain,
//     tenantId) from a ConfigSource, builds the IdentityClient through a
//     ClientFactory and rewrites its AuthState on every provider auth change.
//     Listeners are notified synchronously, in registration order, each with
//     its own copy of the snapshot.
//   - Initialize is idempotent and may be retried after a failure. Destroy
//     drops the client and the listeners.
//
// View selection:
//   - ViewSelector mounts the mirror and picks the initializing, login or
//     secure view. HTTPController renders that view through go-router and turns form
//     posts into sign in and sign out.
//
// Actions:
//   - SignInHandler and SignOutHandler follow the command pattern: a message
//     with a Type and an Execute(ctx, msg) handler. Sign in never writes the
//     state, the provider callback does. Sign out pushes the signed out state
//     straight to the caller.
//
// Activity sinks:
//   - ActivitySink receives state changes and action outcomes best-effort
//     (errors are logged), see store.ActivityStore for a Bun backed sink.
package auth
