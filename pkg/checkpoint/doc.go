// Package checkpoint makes crawl progress durable.
//
// Store is a set of identifiers backed by a CSV file with a "username"
// column or by a plain one-per-line file, chosen by extension. Writes go
// through a temporary file and a rename, and Flush always unions the file
// with memory first, so the set on disk only grows.
//
//	store, err := checkpoint.Open("data/processed_users.csv", log)
//	if store.Contains("alice") {
//		// skip
//	}
//	store.Add("alice")
//	err = store.Flush()
//
// StateManager keeps the hashtag scan progress (tags done, discovered
// count, fallback used) in a JSON file so an interrupted scan resumes where
// it stopped.
package checkpoint
