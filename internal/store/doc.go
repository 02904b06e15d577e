// Package store persists tenants, memberships, channel gates, platform
// users and the audit log in a single SQLite database.
package store
