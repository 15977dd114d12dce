package store

import (
	"testing"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

func TestFilterMatches(t *testing.T) {
	ticket := models.Ticket{
		ID:         "t1",
		BusinessID: "b1",
		Code:       "C07",
		Date:       "2024-08-25",
		Phone:      "8095551234",
		State:      models.StateWaiting,
	}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"business only", Filter{BusinessID: "b1"}, true},
		{"other business", Filter{BusinessID: "b2"}, false},
		{"date", Filter{BusinessID: "b1", Date: "2024-08-25"}, true},
		{"other date", Filter{BusinessID: "b1", Date: "2024-08-24"}, false},
		{"date upper bound", Filter{BusinessID: "b1", DateTo: "2024-08-24"}, false},
		{"code prefix", Filter{BusinessID: "b1", CodePrefix: "C"}, true},
		{"wrong prefix", Filter{BusinessID: "b1", CodePrefix: "A"}, false},
		{"phone", Filter{BusinessID: "b1", Phone: "8095550000"}, false},
		{"states", Filter{BusinessID: "b1", States: []string{"serving", "waiting"}}, true},
		{"other states", Filter{BusinessID: "b1", States: []string{"paid"}}, false},
		{"observed rank", Filter{BusinessID: "b1", OrderRank: IntPtr(0)}, true},
		{"stale rank", Filter{BusinessID: "b1", OrderRank: IntPtr(3)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(ticket); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSortTicketsLineOrder(t *testing.T) {
	base := time.Date(2024, 8, 23, 9, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{
		{Code: "A03", OrderRank: 0, CreatedAt: base.Add(2 * time.Minute)},
		{Code: "A01", OrderRank: 1, CreatedAt: base},
		{Code: "A02", OrderRank: 0, CreatedAt: base.Add(time.Minute)},
	}
	SortTickets(tickets, OrderLine)
	got := []string{tickets[0].Code, tickets[1].Code, tickets[2].Code}
	want := []string{"A02", "A03", "A01"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSortTicketsStartedPutsUnstartedLast(t *testing.T) {
	base := time.Date(2024, 8, 23, 9, 0, 0, 0, time.UTC)
	later := base.Add(10 * time.Minute)
	tickets := []models.Ticket{
		{Code: "A02"},
		{Code: "A03", StartedAt: &later},
		{Code: "A01", StartedAt: &base},
	}
	SortTickets(tickets, OrderStartedAsc)
	if tickets[0].Code != "A01" || tickets[1].Code != "A03" || tickets[2].Code != "A02" {
		t.Fatalf("unexpected order: %s %s %s", tickets[0].Code, tickets[1].Code, tickets[2].Code)
	}
}

func TestPatchApply(t *testing.T) {
	started := time.Date(2024, 8, 23, 10, 0, 0, 0, time.UTC)
	ticket := models.Ticket{State: models.StateServing, StartedAt: &started}
	Patch{State: StringPtr(models.StateWaiting), OrderRank: IntPtr(4), ClearStartedAt: true}.Apply(&ticket)
	if ticket.State != models.StateWaiting || ticket.OrderRank != 4 || ticket.StartedAt != nil {
		t.Fatalf("unexpected ticket after patch: %+v", ticket)
	}
	if !(Patch{}).Empty() {
		t.Fatalf("zero patch should be empty")
	}
}
