package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Result is the outcome of a remote macro call. A failed call has OK false
// and a null Value.
type Result struct {
	OK    bool
	Value json.RawMessage
	Error string
}

// MacroRuntime invokes functions of the spreadsheet's macro backend.
type MacroRuntime interface {
	Call(ctx context.Context, fn string, args ...interface{}) (Result, error)
}

// CallbackName returns a unique global callback name of the form
// callback_<unix millis>_<9 random base36 chars>.
func CallbackName(now time.Time, rng *rand.Rand) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return fmt.Sprintf("callback_%d_%s", now.UnixMilli(), suffix)
}
