// Package fs abstracts the file operations used by the journal and the
// local blob store, so tests can inject I/O faults.
//
// Production code uses [Default], which is [LocalFS]. Tests wrap it in a
// [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("bindings.journal", fs.Fault{FailOnSync: true})
//
// The interfaces mirror package os and carry no context.Context.
package fs
