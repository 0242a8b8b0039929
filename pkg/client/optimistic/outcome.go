package optimistic

import "fmt"

// Balance mirrors the "user" object returned by every metered write.
type Balance struct {
	Tokens     int64 `json:"tokens"`
	TokensUsed int64 `json:"tokensUsed"`
}

// Outcome is the settled result of a server call: either Ok or Err.
type Outcome[T any] interface {
	outcome(T)
}

// Ok carries the server's entity and the balance after the write.
type Ok[T any] struct {
	Entity  T
	Balance Balance
}

func (Ok[T]) outcome(T) {}

// Err carries the failure kind reported by the server, e.g. "insufficient_balance".
type Err[T any] struct {
	Status  int
	Kind    string
	Message string
}

func (Err[T]) outcome(T) {}

func (e Err[T]) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
