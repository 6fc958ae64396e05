// Package notifications delivers operator push notifications over ntfy.
// Without a configured topic every call is a no-op, and individual event
// categories can be switched off in configuration.
package notifications
