// Package preflight checks that strata can run before a sync or serve:
//
//   - the data directory is writable and has free space
//   - every configured source root exists
//   - the file descriptor limit suits watching large trees
//   - the index file is present
//   - the embedder is reachable (optional; search degrades to keyword-only)
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.RunAll(ctx, preflight.Target{DataDir: dir, Sources: roots})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
