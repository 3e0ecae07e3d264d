package reports

import (
	"fmt"
	"time"

	"github.com/mesadb/mesa"
)

// Params carries the knobs reports accept. The zero value is valid for
// every report; fields a report does not read are ignored.
type Params struct {
	// TopN is the rank cutoff for the top-restaurant reports. Zero means 1,
	// which keeps exactly the rows tied for first place.
	TopN int

	// UserID selects the customer for CustomerOrderHistory.
	UserID int64

	// Since and Until bound CustomerOrderHistory to orders with
	// Since <= date < Until. A zero bound is open.
	Since time.Time
	Until time.Time
}

func (p Params) topN() int {
	if p.TopN <= 0 {
		return 1
	}
	return p.TopN
}

// Report is one named catalog entry: a plan constructor plus the summary
// shown by tooling. Build receives the snapshot because some reports
// collect key sets from the data before the plan can be assembled.
type Report struct {
	Name    string
	Summary string
	Build   func(snap *mesa.Snapshot, p Params) (*mesa.QueryBuilder, error)
}

// InactiveCustomers - Dormant Customer Report
//
// Lists users who never placed an order, via a null-aware NOT IN against
// the set of ordering users. An order row with a null user_id poisons the
// set: membership of every candidate becomes unknown and the report goes
// empty rather than guessing. That silent empty result is the finding the
// case study tripped over; clean data gives the expected list.
func InactiveCustomers() *Report {
	return &Report{
		Name:    "inactive_customers",
		Summary: "users who never placed an order",
		Build: func(snap *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			orders, err := snap.Get(TableOrders)
			if err != nil {
				return nil, err
			}
			ordered, err := mesa.KeySetFromTable(orders, "user_id")
			if err != nil {
				return nil, err
			}
			return mesa.From(TableUsers).
				Where(mesa.NotIn(mesa.Col("user_id"), ordered)).
				Select(mesa.Col("user_id"), mesa.Col("name")).
				OrderBy("user_id"), nil
		},
	}
}

// AverageDishPrice - Menu Price Report
//
// Averages the menu price over all dishes. Over an empty menu the average
// is null, never zero; callers rendering the result must treat nil as "no
// data", not as a free lunch.
func AverageDishPrice() *Report {
	return &Report{
		Name:    "average_dish_price",
		Summary: "average price across the menu (null when the menu is empty)",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableMenu).
				Aggregate(mesa.Avg(mesa.Col("price"), "avg_price")), nil
		},
	}
}

// MonthlyOrderVolume - Order Volume by Month Report
//
// Counts orders per calendar month. The month shows as its label
// ("January") but the rows sort by the chronological month index, which
// the projection drops; sorting by the label would put April first.
func MonthlyOrderVolume() *Report {
	return &Report{
		Name:    "monthly_order_volume",
		Summary: "orders per month in calendar order",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				GroupByAs("month", mesa.MonthLabel(mesa.Col("date"))).
				GroupByAs("month_index", mesa.MonthIndex(mesa.Col("date"))).
				Aggregate(mesa.CountAll("order_count")).
				Select(mesa.Col("month"), mesa.Col("order_count")).
				OrderBy("month_index"), nil
		},
	}
}

// MonthlyRevenue - Revenue by Month Report
//
// Sums order amounts per calendar month, chronologically sorted the same
// way as MonthlyOrderVolume.
func MonthlyRevenue() *Report {
	return &Report{
		Name:    "monthly_revenue",
		Summary: "order revenue per month in calendar order",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				GroupByAs("month", mesa.MonthLabel(mesa.Col("date"))).
				GroupByAs("month_index", mesa.MonthIndex(mesa.Col("date"))).
				Aggregate(mesa.Sum(mesa.Col("amount"), "revenue")).
				Select(mesa.Col("month"), mesa.Col("revenue")).
				OrderBy("month_index"), nil
		},
	}
}

// RevenueGrowth - Month-over-Month Growth Report
//
// Annotates monthly revenue with the previous month's figure via lag over
// the month index and derives the delta. The first month has no
// predecessor, so its previous revenue and growth are null.
func RevenueGrowth() *Report {
	return &Report{
		Name:    "revenue_growth",
		Summary: "month-over-month revenue delta",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				GroupByAs("month", mesa.MonthLabel(mesa.Col("date"))).
				GroupByAs("month_index", mesa.MonthIndex(mesa.Col("date"))).
				Aggregate(mesa.Sum(mesa.Col("amount"), "revenue")).
				Window(mesa.Lag(mesa.Col("revenue"), "prev_revenue").
					OrderBy(mesa.Col("month_index"))).
				Select(mesa.Col("month"), mesa.Col("revenue"), mesa.Col("prev_revenue")).
				SelectAs("growth", mesa.Sub(mesa.Col("revenue"), mesa.Col("prev_revenue"))).
				OrderBy("month_index"), nil
		},
	}
}

// TopRestaurantPerMonth - Monthly Leader Report
//
// Ranks restaurants inside each month by order count with dense rank and
// keeps rank 1. Two restaurants tied for a month both appear; a LIMIT
// formulation would have dropped one of them arbitrarily.
func TopRestaurantPerMonth() *Report {
	return &Report{
		Name:    "top_restaurant_per_month",
		Summary: "most-ordered restaurant of each month, ties kept",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableRestaurants, "r", mesa.On("orders.r_id", "r.r_id")).
				GroupByAs("month_index", mesa.MonthIndex(mesa.Col("orders.date"))).
				GroupByAs("month", mesa.MonthLabel(mesa.Col("orders.date"))).
				GroupByAs("restaurant", mesa.Col("r.r_name")).
				Aggregate(mesa.CountAll("order_count")).
				Window(mesa.DenseRank("rnk").
					PartitionBy(mesa.Col("month_index")).
					OrderByDesc(mesa.Col("order_count"))).
				RankAtMost("rnk", 1).
				Select(mesa.Col("month"), mesa.Col("restaurant"), mesa.Col("order_count")).
				OrderBy("month_index").
				OrderBy("restaurant"), nil
		},
	}
}

// TopRestaurantsOverall - Overall Leader Report
//
// Ranks restaurants by total order count with dense rank and keeps ranks
// up to TopN. This is the corrected form of the case study's query: every
// restaurant tied at the cutoff survives.
func TopRestaurantsOverall() *Report {
	return &Report{
		Name:    "top_restaurants_overall",
		Summary: "restaurants with the most orders, ties kept",
		Build: func(_ *mesa.Snapshot, p Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableRestaurants, "r", mesa.On("orders.r_id", "r.r_id")).
				GroupByAs("restaurant", mesa.Col("r.r_name")).
				Aggregate(mesa.CountAll("order_count")).
				Window(mesa.DenseRank("rnk").
					OrderByDesc(mesa.Col("order_count"))).
				RankAtMost("rnk", p.topN()).
				Select(mesa.Col("restaurant"), mesa.Col("order_count")).
				OrderBy("rnk").
				OrderBy("restaurant"), nil
		},
	}
}

// TopRestaurantsOverallLegacy - Overall Leader Report (legacy cutoff)
//
// The case study's original formulation: order by count descending and cut
// with LIMIT TopN. Restaurants tied at the cutoff are dropped in an order
// the caller never chose. Kept under this name for consumers comparing old
// outputs; new callers want TopRestaurantsOverall.
func TopRestaurantsOverallLegacy() *Report {
	return &Report{
		Name:    "top_restaurants_overall_legacy",
		Summary: "restaurants with the most orders, arbitrary among ties",
		Build: func(_ *mesa.Snapshot, p Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableRestaurants, "r", mesa.On("orders.r_id", "r.r_id")).
				GroupByAs("restaurant", mesa.Col("r.r_name")).
				Aggregate(mesa.CountAll("order_count")).
				OrderByDesc("order_count").
				OrderBy("restaurant").
				Limit(p.topN()).
				Select(mesa.Col("restaurant"), mesa.Col("order_count")), nil
		},
	}
}

// FavoriteFoods - Customer Favorites Report
//
// Finds each customer's most-ordered dish by counting order detail rows
// per (customer, dish) and dense-ranking within the customer. Customers
// with tied favorites keep all of them.
func FavoriteFoods() *Report {
	return &Report{
		Name:    "favorite_foods",
		Summary: "each customer's most-ordered dish, ties kept",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableOrderDetails, "d", mesa.On("orders.order_id", "d.order_id")).
				JoinAs(TableMenu, "m", mesa.On("d.f_id", "m.f_id")).
				JoinAs(TableUsers, "u", mesa.On("orders.user_id", "u.user_id")).
				GroupByAs("customer", mesa.Col("u.name")).
				GroupByAs("food", mesa.Col("m.f_name")).
				Aggregate(mesa.CountAll("times_ordered")).
				Window(mesa.DenseRank("rnk").
					PartitionBy(mesa.Col("customer")).
					OrderByDesc(mesa.Col("times_ordered"))).
				RankAtMost("rnk", 1).
				Select(mesa.Col("customer"), mesa.Col("food"), mesa.Col("times_ordered")).
				OrderBy("customer").
				OrderBy("food"), nil
		},
	}
}

// LoyalCustomers - Multi-Restaurant Customer Report
//
// Counts the distinct restaurants each customer ordered from and keeps
// those who tried more than one. Built on COUNT DISTINCT, so repeat
// orders at the same place do not inflate the figure.
func LoyalCustomers() *Report {
	return &Report{
		Name:    "loyal_customers",
		Summary: "customers who ordered from more than one restaurant",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableUsers, "u", mesa.On("orders.user_id", "u.user_id")).
				GroupByAs("customer", mesa.Col("u.name")).
				Aggregate(mesa.CountDistinct(mesa.Col("orders.r_id"), "restaurants_tried")).
				Having(mesa.Gt(mesa.Col("restaurants_tried"), mesa.Val(1))).
				Select(mesa.Col("customer"), mesa.Col("restaurants_tried")).
				OrderByDesc("restaurants_tried").
				OrderBy("customer"), nil
		},
	}
}

// CustomerOrderHistory - Single Customer History Report
//
// Lists one customer's orders with restaurant and dish detail, newest
// last. Bounded by Params.Since (inclusive) and Params.Until (exclusive)
// when set. Orders without detail rows drop out of this report; it reads
// the detail table, not the order table alone.
func CustomerOrderHistory() *Report {
	return &Report{
		Name:    "customer_order_history",
		Summary: "one customer's orders with restaurant and dish detail",
		Build: func(_ *mesa.Snapshot, p Params) (*mesa.QueryBuilder, error) {
			conds := []mesa.ExprBuilder{
				mesa.Eq(mesa.Col("orders.user_id"), mesa.Val(p.UserID)),
			}
			if !p.Since.IsZero() {
				conds = append(conds, mesa.Ge(mesa.Col("orders.date"), mesa.Val(p.Since)))
			}
			if !p.Until.IsZero() {
				conds = append(conds, mesa.Lt(mesa.Col("orders.date"), mesa.Val(p.Until)))
			}
			return mesa.From(TableOrders).
				JoinAs(TableRestaurants, "r", mesa.On("orders.r_id", "r.r_id")).
				JoinAs(TableOrderDetails, "d", mesa.On("orders.order_id", "d.order_id")).
				JoinAs(TableMenu, "m", mesa.On("d.f_id", "m.f_id")).
				Where(mesa.And(conds...)).
				Select(mesa.Col("orders.order_id"), mesa.Col("orders.date"),
					mesa.Col("r.r_name"), mesa.Col("m.f_name"), mesa.Col("orders.amount")).
				OrderBy("orders.date").
				OrderBy("orders.order_id").
				OrderBy("m.f_name"), nil
		},
	}
}

// RestaurantRevenueShare - Revenue Standing Report
//
// Sums revenue per restaurant and broadcasts the best figure onto every
// row, so each restaurant carries its share of the leader's revenue. A
// share of 1 marks the leader itself, including all restaurants tied for
// the lead.
func RestaurantRevenueShare() *Report {
	return &Report{
		Name:    "restaurant_revenue_share",
		Summary: "per-restaurant revenue relative to the leader",
		Build: func(_ *mesa.Snapshot, _ Params) (*mesa.QueryBuilder, error) {
			return mesa.From(TableOrders).
				JoinAs(TableRestaurants, "r", mesa.On("orders.r_id", "r.r_id")).
				GroupByAs("restaurant", mesa.Col("r.r_name")).
				Aggregate(mesa.Sum(mesa.Col("orders.amount"), "revenue")).
				Window(mesa.MaxOver(mesa.Col("revenue"), "best_revenue")).
				Select(mesa.Col("restaurant"), mesa.Col("revenue"), mesa.Col("best_revenue")).
				SelectAs("share_of_best", mesa.Round(mesa.Div(mesa.Col("revenue"), mesa.Col("best_revenue")), 3)).
				OrderByDesc("revenue").
				OrderBy("restaurant"), nil
		},
	}
}

// All returns the canonical reports in their catalog order.
func All() []*Report {
	return []*Report{
		InactiveCustomers(),
		AverageDishPrice(),
		MonthlyOrderVolume(),
		MonthlyRevenue(),
		RevenueGrowth(),
		TopRestaurantPerMonth(),
		TopRestaurantsOverall(),
		TopRestaurantsOverallLegacy(),
		FavoriteFoods(),
		LoyalCustomers(),
		CustomerOrderHistory(),
		RestaurantRevenueShare(),
	}
}

func (p Params) fingerprint() string {
	return fmt.Sprintf("%d|%d|%d|%d", p.topN(), p.UserID, p.Since.UnixNano(), p.Until.UnixNano())
}
