package jsonrpc

// Aliases is a string-keyed side table tied to the life of one connection.
// The Engine clears it whenever the connection resets, so entries never
// leak across reconnects.
type Aliases struct {
	m map[string]string
}

func newAliases() *Aliases {
	return &Aliases{m: make(map[string]string)}
}

// Set stores value under key.
func (a *Aliases) Set(key, value string) {
	a.m[key] = value
}

// Get returns the value stored under key.
func (a *Aliases) Get(key string) (string, bool) {
	v, ok := a.m[key]
	return v, ok
}

// Take returns and removes the value stored under key.
func (a *Aliases) Take(key string) (string, bool) {
	v, ok := a.m[key]
	if ok {
		delete(a.m, key)
	}
	return v, ok
}

// Delete removes key.
func (a *Aliases) Delete(key string) {
	delete(a.m, key)
}

// Len returns the number of entries.
func (a *Aliases) Len() int {
	return len(a.m)
}

// Clear removes all entries.
func (a *Aliases) Clear() {
	clear(a.m)
}
