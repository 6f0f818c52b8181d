package circuitbreaker

import (
	"errors"
	"testing"
)

func TestFirstCallAlwaysContinues(t *testing.T) {
	b := New()
	ok, reason := b.ShouldContinue()
	if !ok || reason != "First tool" {
		t.Fatalf("got (%v, %q), want (true, \"First tool\")", ok, reason)
	}
}

func TestFirstErrorIsRetried(t *testing.T) {
	b := New()
	b.Record("email", "", errors.New("smtp timeout"))
	ok, reason := b.ShouldContinue()
	if !ok {
		t.Fatalf("first error for a tool should be retried, got (%v, %q)", ok, reason)
	}
}

func TestSecondErrorSameToolStops(t *testing.T) {
	b := New()
	b.Record("email", "", errors.New("smtp timeout"))
	b.Record("email", "", errors.New("smtp timeout again"))
	ok, reason := b.ShouldContinue()
	if ok {
		t.Fatal("second consecutive error for same tool should stop the loop")
	}
	want := "Tool 'email' failed after correction attempt: smtp timeout again"
	if reason != want {
		t.Fatalf("got %q, want %q", reason, want)
	}
}

func TestErrorForDifferentToolDoesNotStop(t *testing.T) {
	b := New()
	b.Record("email", "", errors.New("boom"))
	b.Record("pager", "", errors.New("boom"))
	ok, _ := b.ShouldContinue()
	if !ok {
		t.Fatal("errors for distinct tools should not trip the breaker")
	}
}

func TestRepeatedIdenticalResultsStops(t *testing.T) {
	b := New()
	b.Record("status", `{"status":"pending","data":"X"}`, nil)
	b.Record("status", `{"status":"pending","data":"X"}`, nil)
	ok, reason := b.ShouldContinue()
	if ok || reason != "Repeated identical results" {
		t.Fatalf("got (%v, %q), want (false, \"Repeated identical results\")", ok, reason)
	}
}

func TestDistinctResultsContinue(t *testing.T) {
	b := New()
	b.Record("status", `{"status":"pending","data":"X"}`, nil)
	b.Record("status", `{"status":"pending","data":"Y"}`, nil)
	ok, _ := b.ShouldContinue()
	if !ok {
		t.Fatal("distinct results should not trip loop detection")
	}
}

func TestErrorThenSuccessDoesNotLatch(t *testing.T) {
	b := New()
	b.Record("email", "", errors.New("boom"))
	b.Record("email", "sent", nil)
	ok, _ := b.ShouldContinue()
	if !ok {
		t.Fatal("a success after a single prior error should continue")
	}
}

func TestHashResultStable(t *testing.T) {
	if HashResult("abc") != HashResult("abc") {
		t.Fatal("HashResult must be stable for identical input")
	}
	if HashResult("abc") == HashResult("abd") {
		t.Fatal("HashResult collided for distinct input")
	}
}
