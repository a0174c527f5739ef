// Package redis opens go-redis clients for the cross-process reservation
// locks in package lock. NewClient pings the server before returning, so a
// misconfigured address fails at startup instead of on the first tick.
package redis
