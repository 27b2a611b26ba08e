//go:build !rocksdb
// +build !rocksdb

package db

import "fmt"

// NewRocksDBProvider is unavailable unless built with -tags rocksdb.
func NewRocksDBProvider(directory string, options Options) (DatabaseProvider, error) {
	return nil, fmt.Errorf("rocksdb support not compiled in (build with -tags rocksdb), path=%s", directory)
}
