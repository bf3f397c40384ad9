// Package notifications delivers shelver events to ntfy.
//
// Events cover classification results, routing failures, permanently failed
// tasks and batch milestones. Each category can be toggled in the
// [notifications] config section; without a topic the service is a no-op.
package notifications
