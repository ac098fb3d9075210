// Package logx configures hookbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Chat delivery is deliberately not a log sink here. Everything that
// reaches the requester goes through the notify service, which owns the
// outbound channel.
package logx
