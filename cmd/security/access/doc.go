// Package access decides whether a subject may perform an action on a resource.
//
// Permissions are a closed set of (Resource, Action, Scope) values granted per
// Role through a typed table. Authorize is pure: ownership must be fetched by
// the caller and passed in as ownerID.
package access
