// Package queue provides the bounded in-process job queue that carries work
// between pipeline stages. Delivery is at-least-once within the process
// lifetime; nothing survives a restart. Enqueue blocks when the queue is at
// capacity, which is the system's backpressure mechanism: in-flight video
// work is deliberately bounded.
package queue
