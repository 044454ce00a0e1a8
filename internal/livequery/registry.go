package livequery

// registry maps invalidation tokens to the subscriptions whose latest fetch
// produced them. Identical queries can share a token, so each entry holds a
// set. It is owned by the event loop.
type registry struct {
	entries map[string]map[*Subscription]struct{}
	changed bool // token set changed since last publish
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]map[*Subscription]struct{})}
}

// add records sub under token. Returns true if the token is new, meaning it
// has to be announced.
func (r *registry) add(token string, sub *Subscription) bool {
	holders, ok := r.entries[token]
	if !ok {
		holders = make(map[*Subscription]struct{}, 1)
		r.entries[token] = holders
		r.changed = true
	}
	holders[sub] = struct{}{}
	return !ok
}

// remove drops sub from token. Returns true if this emptied the token, meaning
// the server should stop tracking it.
func (r *registry) remove(token string, sub *Subscription) bool {
	holders, ok := r.entries[token]
	if !ok {
		return false
	}
	if _, held := holders[sub]; !held {
		return false
	}
	delete(holders, sub)
	if len(holders) > 0 {
		return false
	}
	delete(r.entries, token)
	r.changed = true
	return true
}

// take removes token and returns its subscriptions.
func (r *registry) take(token string) ([]*Subscription, bool) {
	holders, ok := r.entries[token]
	if !ok {
		return nil, false
	}
	delete(r.entries, token)
	r.changed = true

	subs := make([]*Subscription, 0, len(holders))
	for sub := range holders {
		subs = append(subs, sub)
	}
	return subs, true
}

func (r *registry) has(token string) bool {
	_, ok := r.entries[token]
	return ok
}

func (r *registry) len() int {
	return len(r.entries)
}

func (r *registry) tokens() []string {
	out := make([]string, 0, len(r.entries))
	for token := range r.entries {
		out = append(out, token)
	}
	return out
}

func (r *registry) clear() {
	if len(r.entries) > 0 {
		r.changed = true
	}
	clear(r.entries)
}
