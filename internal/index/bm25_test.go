package index

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Привет, мир!", []string{"привет", "мир"}},
		{"a of на по", nil}, // everything shorter than 3 runes drops
		{"Kofe-мания: кофе!!!", []string{"kofe", "мания", "кофе"}},
		{"", nil},
	}
	for _, tc := range cases {
		if got := Tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func buildTestIndex() *Index {
	ix := New()
	ix.Build([]Doc{
		{Collection: "memories", ID: "m1", Content: "Сергей любит кофе по утрам"},
		{Collection: "memories", ID: "m2", Content: "работает над проектом анимара"},
		{Collection: "conversations", ID: "c1", Content: "вчера обсуждали кофе и проект"},
		{Collection: "memories", ID: "m3", Content: "совсем про другое: велосипед"},
	})
	return ix
}

func TestSearchRanking(t *testing.T) {
	ix := buildTestIndex()

	hits := ix.Search("кофе", 10)
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Error("scores must be non-increasing")
		}
	}
	for _, h := range hits {
		if h.Doc.ID == "m3" {
			t.Error("unrelated doc matched")
		}
	}
}

func TestSearchTopK(t *testing.T) {
	ix := buildTestIndex()
	if hits := ix.Search("кофе проект", 1); len(hits) != 1 {
		t.Errorf("top-k not honored: %d hits", len(hits))
	}
}

func TestSearchEmptyCases(t *testing.T) {
	ix := New()
	if hits := ix.Search("кофе", 5); hits != nil {
		t.Errorf("empty index must return nil, got %v", hits)
	}
	ix = buildTestIndex()
	if hits := ix.Search("и о на", 5); hits != nil {
		t.Errorf("all-stopword query must return nil, got %v", hits)
	}
}

// TestRebuildIdempotent checks that rebuilding from the same snapshot yields
// identical results.
func TestRebuildIdempotent(t *testing.T) {
	ix := buildTestIndex()
	first := ix.Search("проект", 5)

	docs := []Doc{
		{Collection: "memories", ID: "m1", Content: "Сергей любит кофе по утрам"},
		{Collection: "memories", ID: "m2", Content: "работает над проектом анимара"},
		{Collection: "conversations", ID: "c1", Content: "вчера обсуждали кофе и проект"},
		{Collection: "memories", ID: "m3", Content: "совсем про другое: велосипед"},
	}
	ix.Build(docs)
	second := ix.Search("проект", 5)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("rebuild changed results:\n%v\n%v", first, second)
	}
	if ix.Size() != 4 {
		t.Errorf("size = %d, want 4", ix.Size())
	}
}
