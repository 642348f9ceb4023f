// Package executor dispatches tasks to resources and tracks them to
// completion.
//
// Each submission stages the task's inputs onto its resource, runs the bound
// command there, and stages the output roots back. All three steps happen on a
// goroutine owned by the returned Handle; a handle reports Running only once
// every input is in place.
//
// Dispatch is direct: one task goes to exactly the resource it names, and the
// only limit on concurrency is the resource's own slot count. There is no
// admission queue or backpressure between Submit and the resource. A queueing
// layer would sit in front of Engine.Submit.
package executor
