package errcode

import (
	"testing"

	"github.com/pkg/errors"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", QueueFull, QueueFull},
		{"wrapper", &E{C: PinInUse, Op: "claim"}, PinInUse},
		{"pkg errors wrap of code", errors.Wrap(NoBaseline, "classify"), NoBaseline},
		{"foreign", errors.New("boom"), Error},
	}
	for _, c := range cases {
		if got := Of(c.err); got != c.want {
			t.Fatalf("%s: Of = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestEError(t *testing.T) {
	e := &E{C: Malformed, Op: "decode", Msg: "short frame"}
	if got, want := e.Error(), "decode: malformed_message: short frame"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	cause := errors.New("spi stalled")
	w := Wrap(Busy, "send", cause)
	if errors.Cause(w.Unwrap()) != cause {
		t.Fatal("Unwrap lost cause")
	}
	if !Is(w, Busy) {
		t.Fatal("Is(w, Busy) = false")
	}
}
