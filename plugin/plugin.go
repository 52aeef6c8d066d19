// Package plugin implements the interceptor chain (spec.md §4.I): an
// ordered list of gobatis.Interceptor values, each folded over a target at
// one of four construction points. It generalizes geerpc/server.go's
// registration-order middleware wrapping from one target kind (a service
// method call) to four (Executor, ParameterHandler, ResultSetHandler,
// StatementHandler).
package plugin

import "gobatis"

// Wrap folds every interceptor in chain over target, in registration
// order, so the first-registered interceptor is outermost — its Intercept
// call wraps (and may call through to) the rest. Wrap always returns a new
// *Wrapped; when chain is empty or no interceptor declares a signature for
// kind and the called method, Call goes straight to proceed.
func Wrap(target interface{}, kind gobatis.TargetKind, chain []gobatis.Interceptor, proceed func(method string, args []interface{}) (interface{}, error)) *Wrapped {
	return &Wrapped{target: target, kind: kind, chain: chain, proceed: proceed}
}

// Wrapped is the plugin-chain-aware facade callers invoke instead of the
// raw target; Call runs method through every interceptor that declared
// interest in (kind, method), outermost-first, each layer able to call
// Proceed to reach the next.
type Wrapped struct {
	target  interface{}
	kind    gobatis.TargetKind
	chain   []gobatis.Interceptor
	proceed func(method string, args []interface{}) (interface{}, error)
}

// Target returns the original, unwrapped object (an interceptor that
// needs direct field access, the way MyBatis plugins unwrap a Plugin
// proxy, gets it here instead of through reflection).
func (w *Wrapped) Target() interface{} { return w.target }

// Call invokes method with args, running any interceptor in the chain
// whose Signatures() name (w.kind, method); chain order is outermost to
// innermost, so the first matching interceptor's Intercept runs first and
// decides whether/when to call its Invocation.Proceed.
func (w *Wrapped) Call(method string, args []interface{}) (interface{}, error) {
	return w.callFrom(0, method, args)
}

func (w *Wrapped) callFrom(idx int, method string, args []interface{}) (interface{}, error) {
	for i := idx; i < len(w.chain); i++ {
		interceptor := w.chain[i]
		if !interested(interceptor, w.kind, method) {
			continue
		}
		next := i
		inv := gobatis.Invocation{
			Target: w.kind,
			Method: method,
			Args:   args,
			Proceed: func() (interface{}, error) {
				return w.callFrom(next+1, method, args)
			},
		}
		return interceptor.Intercept(inv)
	}
	return w.proceed(method, args)
}

func interested(i gobatis.Interceptor, kind gobatis.TargetKind, method string) bool {
	for _, sig := range i.Signatures() {
		if sig.Target == kind && sig.Method == method {
			return true
		}
	}
	return false
}
