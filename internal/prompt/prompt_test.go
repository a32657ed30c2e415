package prompt

import (
	"testing"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/scrape"
)

func TestCompose_NoContext(t *testing.T) {
	original := "hello there"
	if got := Compose(original, nil); got != original {
		t.Fatalf("expected original text unchanged, got %q", got)
	}
}

func TestCompose_Template(t *testing.T) {
	results := []scrape.Result{
		{URL: "http://a.com", OK: true, Content: "alpha"},
	}
	got := Compose("what is alpha?", results)
	expected := "Context:\nalpha\n\nQuestion: what is alpha?"
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestCompose_JoinsInInputOrder(t *testing.T) {
	results := []scrape.Result{
		{URL: "http://b.com", OK: true, Content: "bravo"},
		{URL: "http://a.com", OK: true, Content: "alpha"},
	}
	got := Compose("question", results)
	expected := "Context:\nbravo\n\nalpha\n\nQuestion: question"
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestCompose_SkipsFailedAndEmptyResults(t *testing.T) {
	results := []scrape.Result{
		{URL: "http://a.com", OK: false, Error: "timeout"},
		{URL: "http://b.com", OK: true, Content: "bravo"},
		{URL: "http://c.com", OK: true, Content: ""},
	}
	got := Compose("question", results)
	expected := "Context:\nbravo\n\nQuestion: question"
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestCompose_AllFailed(t *testing.T) {
	results := []scrape.Result{
		{URL: "http://a.com", Error: "timeout"},
		{URL: "http://b.com", Error: "refused"},
	}
	original := "question"
	if got := Compose(original, results); got != original {
		t.Fatalf("expected original text unchanged, got %q", got)
	}
}

func TestJoin(t *testing.T) {
	results := []scrape.Result{
		{URL: "http://a.com", OK: true, Content: "one"},
		{URL: "http://b.com", OK: true, Content: "two"},
	}
	if got := Join(results); got != "one\n\ntwo" {
		t.Fatalf("expected joined contents, got %q", got)
	}
}

func TestRender_EmptyContext(t *testing.T) {
	if got := Render("", "original"); got != "original" {
		t.Fatalf("expected original, got %q", got)
	}
}
