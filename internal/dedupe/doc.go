// Package dedupe tracks idempotency keys so a dialog submitted twice within
// a configurable window is processed once.
package dedupe
