// Package conversation turns chat messages into assistant replies.
//
// # Overview
//
// The conversation package sits between the inbound queue and the assistant
// run driver. It owns the per-turn sequence and is the single place where a
// failure becomes the user-facing apology:
//
//	svc, err := conversation.New(conversation.Options{
//	    Sessions: sessions,
//	    Creator:  backend,
//	    Runner:   driver,
//	    Turns:    turnStore,
//	})
//	reply := svc.HandleTurn(ctx, conversation.Turn{UserID: room, Text: text})
//
// # Turn Sequence
//
//  1. Check whether this is the user's first interaction
//  2. Look up the user's session, creating one on the backend if absent
//  3. Prefix the text with the first or continuing framing
//  4. Run the turn on the assistant
//  5. Sanitize and format the reply
//  6. Touch the session and record the turn
//
// Any error in steps 2 to 5 (a panic included) removes the user's session,
// records a failed turn and returns the apology. The next message from that
// user starts a fresh session.
//
// # Framing
//
// Framing text is sent to the assistant, never to the user. The first-turn
// template asks for a greeting; the continuing template asks the assistant
// not to introduce itself again. Both are text/template strings executed
// against FrameData and can be replaced from configuration.
//
// # Media
//
// HandleMedia asks the media pipeline for a description (images) or a
// transcript (audio), wraps it with the media template and runs it as a
// normal turn tagged with the media type. When the pipeline fails the user
// gets the apology and their session is left alone.
//
// # Turn Events
//
// Every recorded turn is also published on an optional TurnBroadcaster, so
// the CLI can print a live feed without polling the database.
package conversation
