// Package notifications pushes operator alerts through ntfy. The service is
// optional: without a configured topic every publish is a no-op, so callers
// fire events unconditionally.
package notifications
