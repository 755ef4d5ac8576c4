// Package log provides the structured logging facade used across
// reactiveservices components.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's
// standard library slog with text or JSON handlers, so output interoperates
// with the slog ecosystem while call sites stay on one narrow surface.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat(log.FormatText),
//	)
//	l = l.With(log.Component("aggregator"), log.Str("consumer", id))
//	l.Info("subscription opened", log.Str("subject", subj.String()))
//
// # Configuration
//
// ParseLevel and ParseFormat accept the string forms used by the RS_LOG_LEVEL
// and RS_LOG_FORMAT environment variables and the node configuration file.
//
// Components receive their Logger by injection and tag themselves with
// log.Component; NewNop returns a discard logger for tests.
package log
