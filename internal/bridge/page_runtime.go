package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"formdeploy/internal/logging"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// injectJS runs a script element in the page so the call executes with
// the page's own privileges, then removes the element.
const injectJS = `(code) => {
	const script = document.createElement('script');
	script.textContent = code;
	(document.head || document.documentElement).appendChild(script);
	setTimeout(() => script.remove(), 100);
}`

// callTemplate is filled with the JSON-encoded callback name, function
// name and argument list.
const callTemplate = `(function(name, fn, args) {
	const done = (ok, result) => {
		const cb = window[name];
		if (typeof cb === 'function') cb({ ok: ok, result: result === undefined ? null : result });
	};
	try {
		if (typeof google === 'undefined' || !google.script || !google.script.run) {
			done(false, 'google.script.run is not available');
			return;
		}
		const runner = google.script.run
			.withSuccessHandler((r) => done(true, r))
			.withFailureHandler((e) => done(false, String((e && e.message) || e)));
		if (typeof runner[fn] !== 'function') {
			done(false, 'unknown macro ' + fn);
			return;
		}
		runner[fn].apply(runner, args);
	} catch (e) {
		done(false, String(e));
	}
})(%s, %s, %s);`

// PageRuntime calls macros from inside a spreadsheet tab. Each call
// exposes a one-shot callback, injects a script that invokes the macro and
// waits for the callback or the timeout.
type PageRuntime struct {
	page    *rod.Page
	timeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPageRuntime creates a runtime bound to page.
func NewPageRuntime(page *rod.Page, timeout time.Duration) *PageRuntime {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageRuntime{
		page:    page,
		timeout: timeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PageRuntime) callbackName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return CallbackName(time.Now(), r.rng)
}

// Call implements MacroRuntime. A macro failure or timeout is a failed
// Result, not an error; errors are reserved for page evaluation problems.
func (r *PageRuntime) Call(ctx context.Context, fn string, args ...interface{}) (Result, error) {
	if args == nil {
		args = []interface{}{}
	}
	name := r.callbackName()
	encName, _ := json.Marshal(name)
	encFn, _ := json.Marshal(fn)
	encArgs, err := json.Marshal(args)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s args: %w", fn, err)
	}

	results := make(chan Result, 1)
	stop, err := r.page.Expose(name, func(v gson.JSON) (interface{}, error) {
		res := Result{OK: v.Get("ok").Bool()}
		raw, _ := v.Get("result").MarshalJSON()
		if res.OK {
			res.Value = raw
		} else {
			res.Error = v.Get("result").Str()
		}
		select {
		case results <- res:
		default:
		}
		return nil, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("expose %s: %w", name, err)
	}
	defer func() { _ = stop() }()

	code := fmt.Sprintf(callTemplate, encName, encFn, encArgs)
	if _, err := r.page.Context(ctx).Eval(injectJS, code); err != nil {
		return Result{}, fmt.Errorf("inject %s call: %w", fn, err)
	}
	logging.BridgeDebug("Called %s via %s", fn, name)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-results:
		return res, nil
	case <-timer.C:
		return Result{OK: false, Error: fmt.Sprintf("%s timed out after %s", fn, r.timeout)}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
