// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory substrate for tests and benchmarks. Channels are plain strings;
// every publication gets a unique session id and every subscription on the
// same channel and stream sees one image per publication. Image buffers are
// bounded, so a slow subscriber back-pressures its publishers.
package fake
