// Package storage defines persistence records for the profile-card service.
//
// Workflow packages declare the narrow interfaces they consume; the records
// here are the shapes those interfaces exchange with the SQLite store.
package storage
