package callstream

// Option configures the behavior of a Dispatcher and the sessions it
// creates.
type Option interface {
	apply(*dispatcherOpts)
}

// WithObserver installs a sink for session lifecycle events. Pass nil to
// disable observation (the default).
func WithObserver(obs Observer) Option {
	return optFunc(func(opts *dispatcherOpts) {
		opts.observer = obs
	})
}

// WithErrorEncoder installs the function that turns a business-function
// error into a response payload, replacing the default *ErrorReply
// encoding. Applications use this to report failures in their own response
// type, like a reply struct with a success flag and an error message.
func WithErrorEncoder(enc func(error) any) Option {
	return optFunc(func(opts *dispatcherOpts) {
		if enc != nil {
			opts.errEnc = enc
		}
	})
}

// WithSessionHook installs a function invoked once per session, right
// after the started event and before any handler work. Hosts use it to
// attach per-session policy, such as arming a timer that fires the
// session's Cancel hook.
func WithSessionHook(hook func(*CallSession)) Option {
	return optFunc(func(opts *dispatcherOpts) {
		opts.sessionHook = hook
	})
}

type dispatcherOpts struct {
	observer    Observer
	errEnc      func(error) any
	sessionHook func(*CallSession)
}

type optFunc func(*dispatcherOpts)

func (f optFunc) apply(opts *dispatcherOpts) {
	f(opts)
}
