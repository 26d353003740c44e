package vectordb

import "testing"

func TestObjectID(t *testing.T) {
	tests := []struct {
		index int64
		want  string
	}{
		{0, "6af613b6-569c-5c22-9c37-2ed93f31d3af"},
		{10, "0159d6c7-973f-5e7a-a9a0-d195d0ea6fe2"},
		{20, "66e549b7-01e2-5d07-98d5-430f74d8d3b2"},
		{30, "604ed872-ae2d-5d91-8e3e-572f3a3aaaa5"},
		{1000, "92420e25-bed4-58aa-9b65-c7c94c500448"},
	}

	for _, tt := range tests {
		got := ObjectID(tt.index)
		if got.String() != tt.want {
			t.Errorf("ObjectID(%d) = %s, want %s", tt.index, got, tt.want)
		}
		if got.Version() != 5 {
			t.Errorf("ObjectID(%d) version = %d, want 5", tt.index, got.Version())
		}
	}
}

func TestObjectIDDeterministic(t *testing.T) {
	for i := int64(0); i < 100; i++ {
		if ObjectID(i) != ObjectID(i) {
			t.Fatalf("ObjectID(%d) not deterministic", i)
		}
	}
	if ObjectID(1) == ObjectID(2) {
		t.Error("distinct indices should yield distinct IDs")
	}
}
