// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing raw turn events and seeded conversation
// threads. They are not intended for production usage.
package testutil
