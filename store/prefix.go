package store

import (
	"github.com/syndtr/goleveldb/leveldb/util"
)

// rangeFromPrefix builds a leveldb key range covering every key beginning
// with prefix.
func rangeFromPrefix(prefix []byte) *util.Range {
	return util.BytesPrefix(prefix)
}
