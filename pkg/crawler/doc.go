// Package crawler drives the detail phase: every username in the work list
// is fetched with its recent posts by a fixed pool of workers sharing one
// CrawlContext.
//
// Each item ends in exactly one state (succeeded, partial, terminal or
// exhausted). Finished items are buffered and written to the sink every
// SaveInterval results; the checkpoint is only persisted after the sink
// accepted the batch, so a crash never marks unsaved work as done.
//
//	c, err := crawler.New(cc, crawler.OptionsFromConfig(cfg))
//	if err != nil {
//		return err
//	}
//	summary, err := c.Run(ctx, usernames)
//
// Cancelling ctx, or creating the stop file, stops dispatch. In-flight items
// are abandoned and a final flush runs on a context detached from the
// cancellation.
package crawler
