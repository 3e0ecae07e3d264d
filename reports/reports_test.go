package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mesadb/mesa"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// testSnapshot builds the delivery fixture the report tests share.
//
// Restaurant order counts: dominos 3, kfc 3, box8 2 (top overall ties).
// Monthly volume: May 2, June 2, July 4; revenue 1360, 580, 1155.
// Neha never orders; Ankit only ever orders from dominos.
func testSnapshot(t *testing.T) *mesa.Snapshot {
	t.Helper()
	snap := NewDeliverySnapshot()

	users, _ := snap.Get(TableUsers)
	users.MustAppend(int64(1), "Nitish")
	users.MustAppend(int64(2), "Khushboo")
	users.MustAppend(int64(3), "Vartika")
	users.MustAppend(int64(4), "Ankit")
	users.MustAppend(int64(5), "Neha")

	rests, _ := snap.Get(TableRestaurants)
	rests.MustAppend(int64(1), "dominos")
	rests.MustAppend(int64(2), "kfc")
	rests.MustAppend(int64(3), "box8")

	menu, _ := snap.Get(TableMenu)
	menu.MustAppend(int64(1), "non-veg pizza", 450.0)
	menu.MustAppend(int64(2), "chicken wings", 230.0)
	menu.MustAppend(int64(3), "mandarin noodles", 175.0)

	orders, _ := snap.Get(TableOrders)
	orders.MustAppend(int64(101), int64(1), int64(1), day(2022, time.May, 10), 900.0)
	orders.MustAppend(int64(102), int64(2), int64(2), day(2022, time.May, 28), 460.0)
	orders.MustAppend(int64(103), int64(1), int64(2), day(2022, time.June, 1), 230.0)
	orders.MustAppend(int64(104), int64(3), int64(3), day(2022, time.June, 15), 350.0)
	orders.MustAppend(int64(105), int64(4), int64(1), day(2022, time.July, 5), 450.0)
	orders.MustAppend(int64(106), int64(2), int64(3), day(2022, time.July, 30), 175.0)
	orders.MustAppend(int64(107), int64(3), int64(2), day(2022, time.July, 2), 300.0)
	orders.MustAppend(int64(108), int64(4), int64(1), day(2022, time.July, 11), 230.0)

	details, _ := snap.Get(TableOrderDetails)
	details.MustAppend(int64(1), int64(101), int64(1))
	details.MustAppend(int64(2), int64(101), int64(2))
	details.MustAppend(int64(3), int64(102), int64(2))
	details.MustAppend(int64(4), int64(103), int64(2))
	details.MustAppend(int64(5), int64(104), int64(3))
	details.MustAppend(int64(6), int64(105), int64(1))
	details.MustAppend(int64(7), int64(106), int64(3))
	details.MustAppend(int64(8), int64(107), int64(3))
	details.MustAppend(int64(9), int64(108), int64(1))

	return snap
}

func runReport(t *testing.T, snap *mesa.Snapshot, r *Report, p Params) *mesa.ResultSet {
	t.Helper()
	qb, err := r.Build(snap, p)
	if err != nil {
		t.Fatalf("build %s: %v", r.Name, err)
	}
	rs, err := mesa.Evaluate(context.Background(), snap, qb)
	if err != nil {
		t.Fatalf("evaluate %s: %v", r.Name, err)
	}
	return rs
}

func column(t *testing.T, rs *mesa.ResultSet, name string) []any {
	t.Helper()
	vals, err := rs.ColumnValues(name)
	if err != nil {
		t.Fatalf("column %q: %v", name, err)
	}
	return vals
}

func TestInactiveCustomers(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, InactiveCustomers(), Params{})

	names := column(t, rs, "name")
	if len(names) != 1 || names[0] != "Neha" {
		t.Fatalf("inactive customers = %v, want [Neha]", names)
	}
}

func TestInactiveCustomersNullPoisonsSet(t *testing.T) {
	snap := testSnapshot(t)
	orders, _ := snap.Get(TableOrders)
	orders.MustAppend(int64(109), nil, int64(1), day(2022, time.July, 31), 99.0)

	rs := runReport(t, snap, InactiveCustomers(), Params{})
	if len(rs.Rows) != 0 {
		t.Fatalf("with a null user_id in orders the report must go empty, got %d rows", len(rs.Rows))
	}
}

// The LEFT JOIN formulation is the crosscheck for the NOT IN report: both
// must name exactly the users without orders on clean data.
func TestInactiveCustomersLeftJoinCrosscheck(t *testing.T) {
	snap := testSnapshot(t)

	rs, err := mesa.Evaluate(context.Background(), snap,
		mesa.From(TableUsers).
			LeftJoinAs(TableOrders, "o", mesa.On("users.user_id", "o.user_id")).
			Where(mesa.IsNull(mesa.Col("o.order_id"))).
			Select(mesa.Col("users.name")).
			OrderBy("users.user_id"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	names := column(t, rs, "users.name")
	if len(names) != 1 || names[0] != "Neha" {
		t.Fatalf("left join crosscheck = %v, want [Neha]", names)
	}
}

func TestAverageDishPrice(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, AverageDishPrice(), Params{})

	if len(rs.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rs.Rows))
	}
	avg, _ := mesa.GetVal(rs.Rows[0], "avg_price")
	if avg != 285.0 {
		t.Fatalf("avg_price = %v, want 285", avg)
	}
}

func TestAverageDishPriceEmptyMenuIsNull(t *testing.T) {
	snap := NewDeliverySnapshot()
	rs := runReport(t, snap, AverageDishPrice(), Params{})

	if len(rs.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rs.Rows))
	}
	avg, ok := mesa.GetVal(rs.Rows[0], "avg_price")
	if !ok || avg != nil {
		t.Fatalf("avg_price over empty menu = %v (present %v), want null", avg, ok)
	}
}

func TestMonthlyOrderVolumeChronological(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, MonthlyOrderVolume(), Params{})

	months := column(t, rs, "month")
	want := []any{"May", "June", "July"}
	for i, m := range want {
		if months[i] != m {
			t.Fatalf("months = %v, want %v", months, want)
		}
	}
	counts := column(t, rs, "order_count")
	wantCounts := []any{int64(2), int64(2), int64(4)}
	for i, c := range wantCounts {
		if counts[i] != c {
			t.Fatalf("order_count = %v, want %v", counts, wantCounts)
		}
	}
}

func TestMonthlyRevenue(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, MonthlyRevenue(), Params{})

	revs := column(t, rs, "revenue")
	want := []any{1360.0, 580.0, 1155.0}
	for i, r := range want {
		if revs[i] != r {
			t.Fatalf("revenue = %v, want %v", revs, want)
		}
	}
}

func TestRevenueGrowth(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, RevenueGrowth(), Params{})

	growth := column(t, rs, "growth")
	want := []any{nil, -780.0, 575.0}
	if len(growth) != len(want) {
		t.Fatalf("rows = %d, want %d", len(growth), len(want))
	}
	for i, g := range want {
		if growth[i] != g {
			t.Fatalf("growth = %v, want %v", growth, want)
		}
	}
}

func TestTopRestaurantPerMonthKeepsTies(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, TopRestaurantPerMonth(), Params{})

	type pair struct{ month, restaurant string }
	var got []pair
	for _, row := range rs.Rows {
		m, _ := mesa.GetVal(row, "month")
		r, _ := mesa.GetVal(row, "restaurant")
		got = append(got, pair{m.(string), r.(string)})
	}
	// May and June each end in a two-way tie; July has a clear winner.
	want := []pair{
		{"May", "dominos"}, {"May", "kfc"},
		{"June", "box8"}, {"June", "kfc"},
		{"July", "dominos"},
	}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rows = %v, want %v", got, want)
		}
	}
}

func TestTopRestaurantsOverallKeepsTies(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, TopRestaurantsOverall(), Params{})

	names := column(t, rs, "restaurant")
	if len(names) != 2 || names[0] != "dominos" || names[1] != "kfc" {
		t.Fatalf("top overall = %v, want [dominos kfc]", names)
	}
}

func TestTopRestaurantsOverallLegacyCutsTies(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, TopRestaurantsOverallLegacy(), Params{})

	names := column(t, rs, "restaurant")
	if len(names) != 1 {
		t.Fatalf("legacy top must cut to exactly 1 row, got %v", names)
	}
}

func TestTopRestaurantsOverallTopN(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, TopRestaurantsOverall(), Params{TopN: 2})

	names := column(t, rs, "restaurant")
	// Rank 1 is the dominos/kfc tie, rank 2 is box8.
	want := []any{"dominos", "kfc", "box8"}
	if len(names) != len(want) {
		t.Fatalf("top 2 = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("top 2 = %v, want %v", names, want)
		}
	}
}

func TestFavoriteFoods(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, FavoriteFoods(), Params{})

	type fav struct {
		customer, food string
		times          int64
	}
	var got []fav
	for _, row := range rs.Rows {
		c, _ := mesa.GetVal(row, "customer")
		f, _ := mesa.GetVal(row, "food")
		n, _ := mesa.GetVal(row, "times_ordered")
		got = append(got, fav{c.(string), f.(string), n.(int64)})
	}
	want := []fav{
		{"Ankit", "non-veg pizza", 2},
		{"Khushboo", "chicken wings", 1},
		{"Khushboo", "mandarin noodles", 1},
		{"Nitish", "chicken wings", 2},
		{"Vartika", "mandarin noodles", 2},
	}
	if len(got) != len(want) {
		t.Fatalf("favorites = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("favorites = %v, want %v", got, want)
		}
	}
}

func TestLoyalCustomers(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, LoyalCustomers(), Params{})

	names := column(t, rs, "customer")
	// Ankit only ever orders from dominos, so he is out.
	want := []any{"Khushboo", "Nitish", "Vartika"}
	if len(names) != len(want) {
		t.Fatalf("loyal = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("loyal = %v, want %v", names, want)
		}
	}
}

func TestCustomerOrderHistory(t *testing.T) {
	snap := testSnapshot(t)

	t.Run("all orders", func(t *testing.T) {
		rs := runReport(t, snap, CustomerOrderHistory(), Params{UserID: 1})
		foods := column(t, rs, "m.f_name")
		want := []any{"chicken wings", "non-veg pizza", "chicken wings"}
		if len(foods) != len(want) {
			t.Fatalf("history = %v, want %v", foods, want)
		}
		for i := range want {
			if foods[i] != want[i] {
				t.Fatalf("history = %v, want %v", foods, want)
			}
		}
	})

	t.Run("date bounded", func(t *testing.T) {
		rs := runReport(t, snap, CustomerOrderHistory(), Params{
			UserID: 1,
			Since:  day(2022, time.June, 1),
		})
		if len(rs.Rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(rs.Rows))
		}
		id, _ := mesa.GetVal(rs.Rows[0], "orders.order_id")
		if id != int64(103) {
			t.Fatalf("order_id = %v, want 103", id)
		}
	})

	t.Run("unknown customer is empty not error", func(t *testing.T) {
		rs := runReport(t, snap, CustomerOrderHistory(), Params{UserID: 42})
		if len(rs.Rows) != 0 {
			t.Fatalf("rows = %d, want 0", len(rs.Rows))
		}
	})
}

func TestRestaurantRevenueShare(t *testing.T) {
	snap := testSnapshot(t)
	rs := runReport(t, snap, RestaurantRevenueShare(), Params{})

	names := column(t, rs, "restaurant")
	want := []any{"dominos", "kfc", "box8"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("restaurants = %v, want %v", names, want)
		}
	}
	shares := column(t, rs, "share_of_best")
	if shares[0] != 1.0 {
		t.Fatalf("leader share = %v, want 1", shares[0])
	}
	best := column(t, rs, "best_revenue")
	for i, b := range best {
		if b != 1580.0 {
			t.Fatalf("best_revenue[%d] = %v, want 1580 on every row", i, b)
		}
	}
}

func TestReportsValidateAgainstDefaults(t *testing.T) {
	snap := testSnapshot(t)
	for _, r := range All() {
		r := r
		t.Run(r.Name, func(t *testing.T) {
			qb, err := r.Build(snap, Params{UserID: 1})
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			q := qb.Build()
			if err := q.Validate(); err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestReportBuildOnBrokenSnapshot(t *testing.T) {
	snap := mesa.NewSnapshot() // no tables at all
	_, err := InactiveCustomers().Build(snap, Params{})
	if !errors.Is(err, mesa.ErrUnknownTable) {
		t.Fatalf("err = %v, want ErrUnknownTable", err)
	}
}
