// Package task contains the worker side of the analysis pipeline.
//
// Processor handles queue deliveries: it leases the task, moves the record to
// processing, calls the analyzer and stores the result, then reports a
// queue.Result so the queue can apply its retry policy. Sweeper runs next to
// the queue consumer and repairs records the queue lost track of.
package task
