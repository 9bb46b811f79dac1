package core

// ID is a dense handle bound to a string key while the key is live.
// It is strictly 32-bit; ids are reissued after release, so the space stays compact.
type ID uint32

// MaxID is the largest id an allocator will ever hand out.
// ^ID(0) is kept free so internal bookkeeping can use it as "no id".
const MaxID = ^ID(0) - 1

// Binding pairs an id with the key it is bound to.
type Binding struct {
	ID  ID
	Key string
}
