package realtime

import (
	"errors"
	"strconv"
)

// ErrInvalidPair is returned when a user id of the pair is missing
var ErrInvalidPair = errors.New("invalid user pair")

// RoomFor returns the room shared by users a and b. The result does not depend on argument order.
func RoomFor(a, b int64) (string, error) {
	if a < 1 || b < 1 {
		return "", ErrInvalidPair
	}
	if a > b {
		a, b = b, a
	}
	return "chat_" + strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10), nil
}
