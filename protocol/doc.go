// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Connection layer over a poll/try-offer substrate.
//
// A Connection pairs a flow-controlled Outbound (producers hand messages to
// the owning worker, which fragments and offers them within a time-bounded
// back-pressure budget) with a pull-based Inbound (the worker polls only as
// many fragments as the consumer demanded). The Manager performs the
// CONNECT / CONNECT_ACK handshake for initiators (Connect) and acceptors
// (Bind) and places every connection on exactly one reactor worker.
package protocol
