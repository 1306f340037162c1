package localstore

// Options are used to customize the Store.
type Options struct {

	// DataDir is the path to the Pebble database directory. It is required.
	DataDir string

	// Fsync requests a WAL fsync on each committed append. The default is
	// false, which leaves syncing to Pebble.
	Fsync bool

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

// DefaultOptions returns *Options with all default values, for the given
// directory.
func DefaultOptions(dataDir string) *Options {
	return &Options{DataDir: dataDir}
}
