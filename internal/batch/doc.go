// Package batch implements reclassification batches: bulk reassignments that
// are validated with a read-only preview, executed one item at a time in
// order, and recovered item by item.
//
// With pause-on-error a failing item stops the run and records its position
// in paused_at_item; every earlier item has succeeded and every later one is
// untouched. Failed items can be skipped or retried, and Resume continues with
// the first item that has not run. Cancel never undoes completed items.
//
// Batch counters are recomputed from item states whenever an item changes, so
// they always equal the sum of the items' terminal states.
package batch
