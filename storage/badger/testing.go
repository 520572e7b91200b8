package badger

// NewMemoryStores creates in-memory repositories for testing.
// Caller must Close the returned Stores when done.
func NewMemoryStores() (*Stores, error) {
	return Open("", true)
}
