// Package transport sends backend requests with the current access credential.
//
// Client is the raw exchange: it builds the URL, attaches a bearer credential
// when one is given and maps responses onto the error taxonomy. Transport wraps
// Client with the authorization-retry rule: a 401 on a request that is not a
// renewal call and has not been retried triggers one renewal through the
// Renewer, then exactly one resend with the credential read back from the
// session. A second 401 is returned to the caller unchanged.
package transport
