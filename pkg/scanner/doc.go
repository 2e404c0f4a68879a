// Package scanner discovers usernames from hashtag feeds.
//
// Tags are searched in parallel, paced by a token bucket, and every
// discovered username is appended to the usernames file. Progress is kept
// in a scan-state file so a rerun skips finished tags. When the tags yield
// too few usernames the scanner falls back to followers of popular accounts
// and then to a fixed account list.
package scanner
