package kernel

import (
	"strings"
	"testing"
)

func TestPanicfCarriesCategoryAndMessage(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		kerr, ok := r.(*KernelError)
		if !ok {
			t.Fatalf("got panic value of type %T, want *KernelError", r)
		}
		if kerr.Category != CategoryMemory {
			t.Fatalf("category: got %s, want %s", kerr.Category, CategoryMemory)
		}
		if !strings.Contains(kerr.Error(), "frame 7 exhausted") {
			t.Fatalf("message not formatted into Error(): %s", kerr.Error())
		}
	}()
	Panicf(CategoryMemory, "frame %d exhausted", 7)
}
