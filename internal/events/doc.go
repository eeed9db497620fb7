// Package events carries job lifecycle notifications.
//
// The job manager emits a JobEvent for every status transition through an
// EventEmitter. InMemoryEventEmitter fans events out to registered handlers,
// one of which is usually a NATSPublisher so other services can follow job
// progress without polling the API.
package events
