package utils

import (
	"crypto/md5"
	"fmt"
)

// HashBytes returns the hex md5 digest of raw response data. Used as
// an opaque reference into the collection log.
func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
