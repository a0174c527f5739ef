/*
Package lock provides the per-capability reservation locks held by the
scheduler while it checks capacity, reserves a slot and moves a task in
flight.

Acquire always has a deadline. A scheduler that cannot get the lock in time
gets ErrTimeout and skips the task until the next tick, so a stuck holder
delays work but never blocks a loop forever.

# Implementations

LocalLocker is a one-slot channel, enough when a single process schedules
against the store. It is the default.

RedisLocker serializes reservations across processes sharing a Redis:

	acquire  SET key token NX PX ttl, retried every 50ms until the deadline
	release  delete key only if it still holds token (Lua script)

The key expires after ttl so a crashed holder cannot wedge the pool; ttl
must exceed the longest critical section. cmd/trainyard uses one key per
capability, trainyard:reserve:labeling and trainyard:reserve:training.

The locks cover allocation only. Startup recovery and the reconciler still
assume they are the only scheduler working the store, see the recover
command.
*/
package lock
