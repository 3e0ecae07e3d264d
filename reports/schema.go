// Package reports holds the food delivery analytics catalog: the named
// report plans run against a delivery snapshot, a catalog to look them up
// and run them, and a cron refresher that re-evaluates the catalog as new
// snapshots arrive.
//
//   - What: Each report is a plan constructor plus findings from the case
//     study it came out of. The catalog prepares plans once per snapshot,
//     runs reports singly or all at once, and stamps every run with an ID,
//     the snapshot identity and timings.
//   - How: Plans are built with the root package's fluent builder and
//     evaluated through EvaluatePlan. RunAll fans out over a WaitGroup;
//     evaluation is read-only, so reports share the snapshot freely.
//   - Why: The queries of an analytics case study deserve names, docs and
//     tests, not copies pasted around call sites.
package reports

import (
	"github.com/mesadb/mesa"
)

// Table names of the delivery dataset.
const (
	TableUsers        = "users"
	TableRestaurants  = "restaurants"
	TableMenu         = "menu"
	TableOrders       = "orders"
	TableOrderDetails = "order_details"
)

// DefineSchema registers the five delivery tables on the snapshot:
// users, restaurants, menu, orders and order_details. Tables start empty.
func DefineSchema(snap *mesa.Snapshot) {
	mesa.NewTableBuilder(TableUsers).
		Int("user_id").Key().
		Text("name").
		Into(snap)

	mesa.NewTableBuilder(TableRestaurants).
		Int("r_id").Key().
		Text("r_name").
		Into(snap)

	mesa.NewTableBuilder(TableMenu).
		Int("f_id").Key().
		Text("f_name").
		Float("price").
		Into(snap)

	mesa.NewTableBuilder(TableOrders).
		Int("order_id").Key().
		Int("user_id").References(TableUsers, "user_id").
		Int("r_id").References(TableRestaurants, "r_id").
		Date("date").
		Float("amount").
		Into(snap)

	mesa.NewTableBuilder(TableOrderDetails).
		Int("od_id").Key().
		Int("order_id").References(TableOrders, "order_id").
		Int("f_id").References(TableMenu, "f_id").
		Into(snap)
}

// NewDeliverySnapshot creates a fresh snapshot carrying the delivery schema.
func NewDeliverySnapshot() *mesa.Snapshot {
	snap := mesa.NewSnapshot()
	DefineSchema(snap)
	return snap
}
