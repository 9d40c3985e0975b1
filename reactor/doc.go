// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the worker pool: a fixed set of single-threaded
// event loops, each owning a table of agents it ticks in a fixed phase order
// (sweep, outbound, inbound, then cross-thread tasks). Agents never migrate
// between workers, so agent state needs no locking.
package reactor
