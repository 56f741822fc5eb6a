// Package queue delivers task references from the producer to workers with
// at-least-once semantics and owns the retry policy: a failed attempt is
// rescheduled after an exponential backoff until the attempt budget is spent,
// at which point the entry is dropped and an exhaustion hook fires once. A
// handler that cannot start yet can defer the delivery instead, which keeps
// its attempt number.
//
// Two backends implement the same contract. AsynqQueue is durable and shared
// between processes through Redis; MemoryQueue keeps everything in-process
// and is meant for single-node setups and tests.
package queue
