// Package service contains the application use cases behind the HTTP API.
//
// TaskService is the producer side of the analysis pipeline: it persists a
// task record and only then enqueues a reference to it. It also serves status
// reads straight from the store and generates cover letters on demand, one
// generation per task at a time.
//
// Services receive their dependencies through constructor injection and
// never depend on concrete infrastructure.
package service
