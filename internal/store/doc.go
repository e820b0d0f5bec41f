// Package store records finished fanout requests.
//
// The main components are:
//
//   - [Result]: the stored record of one finished request
//   - [MemoryStore]: latest result per job name, with pub/sub for live views
//   - [SQLiteStore]: append-only history in a SQLite database
//   - [Tee]: fans one result out to several recorders
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block the reactor).
package store
