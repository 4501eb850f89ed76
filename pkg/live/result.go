package live

// ResultKind tells the dispatcher what a handler did.
type ResultKind uint8

const (
	// ResultNoChange means the state is unchanged; nothing is rendered.
	ResultNoChange ResultKind = iota

	// ResultUpdate carries a new state to render and diff.
	ResultUpdate

	// ResultRedirect asks the client to navigate to a URL.
	ResultRedirect
)

// String returns the string representation of the ResultKind.
func (k ResultKind) String() string {
	switch k {
	case ResultNoChange:
		return "NoChange"
	case ResultUpdate:
		return "Update"
	case ResultRedirect:
		return "Redirect"
	default:
		return "Unknown"
	}
}

// Result is the outcome of a handler invocation.
type Result struct {
	Kind  ResultKind
	State State
	URL   string
}

// Update returns a result replacing the session state with s.
func Update(s State) Result {
	return Result{Kind: ResultUpdate, State: s}
}

// Redirect returns a result sending the client to url. The session state
// is left as it was.
func Redirect(url string) Result {
	return Result{Kind: ResultRedirect, URL: url}
}

// NoChange returns a result that leaves the session untouched.
func NoChange() Result {
	return Result{Kind: ResultNoChange}
}
