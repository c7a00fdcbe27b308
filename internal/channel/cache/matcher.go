package cache

// Matcher picks which pending entry a response answers. pending is ordered
// oldest first; the returned index refers to that slice.
type Matcher[P any] func(response P, pending []Entry[P]) (int, bool)

// FIFO pairs every response with the oldest pending request.
func FIFO[P any](_ P, pending []Entry[P]) (int, bool) {
	if len(pending) == 0 {
		return 0, false
	}
	return 0, true
}

// MatchKey pairs a response with the oldest pending request sharing its key.
func MatchKey[P any, K comparable](key func(P) K) Matcher[P] {
	return func(response P, pending []Entry[P]) (int, bool) {
		want := key(response)
		for i, e := range pending {
			if key(e.Request) == want {
				return i, true
			}
		}
		return 0, false
	}
}
