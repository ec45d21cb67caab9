// Package types defines the shared error taxonomy and request-scoped
// context helpers used across actionmesh.
package types
