package rooms

import "testing"

func TestRoomFor(t *testing.T) {
	cases := map[Audience]Room{
		Kitchen():       "kitchen",
		Waiters():       "waiters",
		All():           "all",
		Table(5):        "table:5",
		Order("o-1"):    "order:o-1",
		Staff(42):       "staff:42",
		{}:              "",
		{Kind: Kind(99)}: "",
	}
	for a, want := range cases {
		if got := RoomFor(a); got != want {
			t.Fatalf("RoomFor(%+v) = %q, want %q", a, got, want)
		}
	}
}

func TestParse_NormalisesDashForm(t *testing.T) {
	for in, want := range map[string]Room{
		"kitchen":       "kitchen",
		"table-7":       "table:7",
		"table:7":       "table:7",
		"order-abc-123": "order:abc-123",
		"staff-3":       "staff:3",
	} {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "tables:1", "table:x", "table:", "staff-", "bar"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) should fail", in)
		}
	}
}
