package search

import (
	"reflect"
	"testing"
)

func TestSplitBudget(t *testing.T) {
	cases := []struct {
		budget uint32
		peers  int
		want   []uint32
	}{
		{2, 4, []uint32{1, 1, 0, 0}},
		{4, 4, []uint32{1, 1, 1, 1}},
		{5, 5, []uint32{1, 1, 1, 1, 1}},
		{7, 3, []uint32{3, 2, 2}},
		{1, 2, []uint32{1, 0}},
		{8, 0, nil},
	}
	for _, tc := range cases {
		got := SplitBudget(tc.budget, tc.peers)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitBudget(%d, %d) = %v, want %v", tc.budget, tc.peers, got, tc.want)
		}
	}
}

func TestSplitBudgetConserves(t *testing.T) {
	for budget := uint32(1); budget <= 130; budget++ {
		for peers := 1; peers <= 7; peers++ {
			var total uint32
			for _, b := range SplitBudget(budget, peers) {
				total += b
			}
			if total != budget {
				t.Fatalf("budget %d over %d peers distributed as %d", budget, peers, total)
			}
		}
	}
}

func TestMatch(t *testing.T) {
	names := []string{"Report.pdf", "notes.txt", "summary_report_v2.doc", "img.png"}

	got := Match("report", names)
	want := []string{"Report.pdf", "summary_report_v2.doc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match = %v, want %v", got, want)
	}

	// Multiple tokens match independently; a file matches at most once.
	got = Match("report notes", names)
	want = []string{"Report.pdf", "notes.txt", "summary_report_v2.doc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match = %v, want %v", got, want)
	}

	if got := Match("zip", names); got != nil {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestActiveCollectsUniqueResults(t *testing.T) {
	a := NewActive("report")

	fresh := a.AddReply("report", "alice", []string{"r1.pdf", "r2.pdf"}, [][]byte{{1}, {2}})
	if len(fresh) != 2 || a.Count() != 2 {
		t.Fatalf("expected 2 fresh results, got %v", fresh)
	}

	// Duplicate name from another origin keeps the first entry.
	fresh = a.AddReply("report", "bob", []string{"r1.pdf"}, [][]byte{{9}})
	if len(fresh) != 0 {
		t.Errorf("duplicate accepted: %v", fresh)
	}
	if r, _ := a.Lookup("r1.pdf"); r.Origin != "alice" {
		t.Errorf("duplicate overwrote origin: %+v", r)
	}

	// Replies for another query are discarded.
	if fresh := a.AddReply("movies", "carol", []string{"m.avi"}, [][]byte{{3}}); fresh != nil {
		t.Errorf("accepted reply for wrong query: %v", fresh)
	}
}

func TestExpandStopsAtBounds(t *testing.T) {
	a := NewActive("report")

	budgets := []uint32{4, 8, 16, 32, 64, 128}
	for _, want := range budgets {
		got, resend := a.Expand()
		if got != want || !resend {
			t.Fatalf("Expand = (%d, %v), want (%d, true)", got, resend, want)
		}
	}
	if _, resend := a.Expand(); resend {
		t.Error("expansion should stop past the budget cap")
	}
}

func TestExpandStopsOnEnoughResults(t *testing.T) {
	a := NewActive("x")
	names := make([]string, ResultTarget)
	ids := make([][]byte, ResultTarget)
	for i := range names {
		names[i] = string(rune('a' + i))
		ids[i] = []byte{byte(i)}
	}
	a.AddReply("x", "alice", names, ids)

	if _, resend := a.Expand(); resend {
		t.Error("expansion should stop once the result target is met")
	}
}
