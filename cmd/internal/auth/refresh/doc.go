// Package refresh owns the lifecycle of opaque refresh tokens.
//
// It issues random tokens, stores only their digest, verifies presented
// tokens, rotates them single-use with reuse detection, and revokes them.
//
// A token is a base64url string of at least 256 random bits. It is shown to
// the caller exactly once. Each token maps to one Record; rotation revokes the
// presented record and links it to its successor via RotatedTo.
//
// Persistence sits behind Store. MemoryStore is the single-process reference;
// PostgresStore and RedisStore keep the same atomicity contract through a row
// lock and a Lua script respectively.
//
// Transport (cookies, HTTP status mapping) is out of scope here.
package refresh
