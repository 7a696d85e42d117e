// Package inbound debounces chat events per user before they reach the
// conversation service.
//
// People often type one thought as several quick messages. The Queue holds a
// user's payloads for a quiet window (2s by default) after the first one,
// then drains them as one batch:
//
//   - all text payloads are joined with single spaces into one call
//   - each media payload becomes its own call, in arrival order
//   - the merged text call goes first, with MediaGap between calls
//
// Calls go to a worker goroutine owned by the user, so one user's calls never
// overlap and always run in drain order. The drain does not wait for them. A
// payload that arrives while a drain is running starts a new window once the
// drain ends.
//
// Handler errors and panics are logged and never reach other calls or other
// users. Seen filters transport redeliveries by event id.
package inbound
