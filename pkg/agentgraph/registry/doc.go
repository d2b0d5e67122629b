// Package registry provides a generic thread-safe registry for values indexed
// by key.
//
// The engine keeps one lock per thread id in a registry (GetOrCreate makes
// lock creation race-free), and the agents package registers graph builders
// by name:
//
//	builders := registry.New[string, Builder]()
//	if err := builders.Add("jokes", jokes.New); err != nil {
//	    // name taken
//	}
//	for _, name := range registry.SortedKeys(builders) {
//	    fmt.Println(name)
//	}
//
// Range iterates over a snapshot, so callbacks may register or delete entries.
package registry
