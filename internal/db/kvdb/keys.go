// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import "encoding/binary"

// itob encodes sequence ids big endian so bucket iteration follows id order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
