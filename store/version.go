package store

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallnest/graphstate/channel"
	"github.com/smallnest/graphstate/serde"
)

// NextVersion derives the next version string for a channel given its current
// version: a strictly increasing 32-digit integer prefix plus a content hash
// of the channel's checkpoint value. The integer guarantees ordering
// independent of content; the hash lets a store decide "same value as what I
// already persisted" without deserializing. An empty channel contributes an
// empty hash component.
func NextVersion(current string, ch channel.Channel, s serde.Serializer) (string, error) {
	next := versionPrefix(current) + 1

	value, err := ch.Checkpoint()
	if err != nil {
		if errors.Is(err, channel.ErrEmptyChannel) {
			return fmt.Sprintf("%032d.", next), nil
		}
		return "", err
	}

	_, data, err := s.DumpsTyped(value)
	if err != nil {
		return "", fmt.Errorf("failed to hash channel value: %w", err)
	}
	sum := md5.Sum(data)
	return fmt.Sprintf("%032d.%s", next, hex.EncodeToString(sum[:])), nil
}

// CompareVersions orders two version strings by their integer prefixes.
// The empty string sorts before every real version.
func CompareVersions(a, b string) int {
	av, bv := versionPrefix(a), versionPrefix(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func versionPrefix(v string) int64 {
	if v == "" {
		return 0
	}
	head, _, _ := strings.Cut(v, ".")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
