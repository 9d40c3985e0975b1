// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for hioload-flow.
//
// Provides:
//   - Config loading from file and environment (viper), with hot reload
//   - zap logger construction with optional lumberjack rotation
//   - Prometheus collectors fed by worker flight recorders
//   - Debug probe registry for state dumps
package control
