// Package health serves the liveness and readiness endpoints of the ops
// listener.
//
// Readiness is [All] of the [ShutdownGate] probe and [BundleLoaded]: an
// instance takes traffic once a client bundle is active and stops the
// moment shutdown begins. Liveness is normally [Fixed].
package health
