// Package log is the structured logging layer of the relay.
//
// Components receive a Logger, name it after themselves and attach
// persistent pairs:
//
//	lg := log.NewZapLogger(log.Config{Format: "logfmt", Level: log.LevelDebug})
//	lg = lg.WithName("relay").WithKV("domain", "GasFreeERC20")
//	lg.Info("request accepted", "signer", signer, "nonce", nonce)
//
// Request-scoped code reads the logger from a context. If the context carries
// an OpenTelemetry span, entries are also recorded as span events and tagged
// with the trace and span ids:
//
//	ctx = log.SetContextLogger(ctx, lg)
//	log.FromContext(ctx).Warn("replayed nonce", "nonce", nonce)
package log
