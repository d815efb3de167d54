// Package session owns the operator's credential pair and identity.
//
// Store is the single source of truth for the access credential, the refresh
// credential and the seller profile. Other components read from it at call
// time and mutate it only through SetAccessIf, BeginRefresh and Logout.
//
// Every login/logout starts a new generation. A generation identifies one
// logical session; renewal and channel code key their state on it so work
// from a dead session can never resurrect credentials.
//
// Durable state (access, refresh, profile) is written through a Persister
// after each successful mutation and cleared on logout. In-flight renewal
// state is never persisted.
package session
