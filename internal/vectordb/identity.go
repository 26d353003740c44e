package vectordb

import (
	"strconv"

	"github.com/google/uuid"
)

// ObjectID derives the identity of a dataset row: a version 5 UUID in the
// DNS namespace over the decimal string of the index. Re-importing the same
// row always yields the same ID.
func ObjectID(index int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(strconv.FormatInt(index, 10)))
}
