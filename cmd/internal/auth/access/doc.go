// Package access issues and verifies short-lived HS256 bearer tokens.
//
// Access tokens are self-contained: the subject is the application user id and
// verification needs only the shared secret. They travel in JSON response
// bodies and Authorization headers, never in cookies.
package access
