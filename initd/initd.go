// Package initd is the core of the initd application: the service table, the
// lifecycle manager, the runlevel controller and the single-threaded event
// loop that ties them together.
//
// Mechanism of Operation
//
// The supervisor owns all of its state in one Loop value. The loop suspends in
// exactly one place, Kernel.Next, waiting for the next host event: a child
// process exiting, a control request arriving on the control channel, or a
// request to reload the service table. Each pass handles that one event and
// then dispatches at most one queued control request, so control requests and
// process exits interleave deterministically.
//
// The only other place the loop blocks is when a service with the "wait"
// action is started. The whole supervisor then waits for that one child to
// exit; events that arrive meanwhile are held by the kernel until the next
// call to Next.
//
// Service Table
//
// The table is read from an inittab-like file, one service per line:
//
//    id:runlevels:action:command
//
// Lines starting with ':' are comments. The runlevels field is scanned for
// decimal digits, so "2345", "2,3,4,5" and "2 3 4 5" are the same set.
//
// Nothing in this package is fatal. Every failure is written to the Journaler
// and the loop carries on, because the supervisor is the process that anchors
// the rest of the system.
package initd
