// Package sdbus is a client for the D-Bus message bus.
//
// A [Conn] is obtained with [Open], [OpenUser] or [OpenSystem].
// Messages are built with explicit typed cursors: [Conn.NewMethodCall]
// returns an open [Message], arguments are added with its Append
// methods, and [Message.Call] sends it and waits for the reply. Reply
// bodies are read back through an [Iterator].
//
// The connection never runs user code on its own goroutines. Inbound
// traffic parks in a queue until the application calls
// [Conn.Process], which dispatches one message to the registered
// callback, on the calling goroutine. [Conn.Wait] blocks until
// Process has work, and [Conn.Fd] exposes the transport descriptor
// for applications that multiplex with poll instead.
package sdbus
