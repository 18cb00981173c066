// Package redisq is a connection-pooled client for a Redis-protocol
// key-value store. It wraps internal/pool, internal/conn, and
// internal/ring behind Connect/ConnectLazy/ConnectSharded constructors
// and a Handler facade exposing Execute plus a small convenience-command
// set, transactions (Watch/Multi/Commit/Discard/Unwatch), pipelining,
// and pub/sub (Subscriber/Monitor).
package redisq
