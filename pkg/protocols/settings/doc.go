// Package settings implements the settings protocol: a driver publishes
// a table of named, typed values and tools list, read and change them.
//
// QuerySettings streams one response per setting followed by a response
// with Done set. The table can be seeded from a YAML file and kept in sync
// with it by WatchFile.
package settings
