// Package pipeline implements the media analysis pipeline.
//
// The pipeline is a fixed DAG of eight stages. Each stage reads the current
// State and returns an Update whose lists are appended to the State, so later
// stages see everything earlier stages produced. Stages that share a DAG
// level run concurrently. Inside a stage every item is processed on its own:
// a failing item is recorded and skipped, items completed by a previous run
// are never touched, and the cancellation token is checked before and after
// every item.
package pipeline
