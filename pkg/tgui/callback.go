package tgui

import (
	"errors"
	"strconv"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "action" or "action:payload".
func Data(action, payload string) string {
	action = strings.TrimSpace(action)
	if payload == "" {
		return action
	}
	return action + ":" + payload
}

// DataID is Data with a numeric payload, the common case here.
func DataID(action string, id int64) string {
	return Data(action, strconv.FormatInt(id, 10))
}

// Split decomposes callback data into action and payload. A missing
// payload yields the empty string.
func Split(data string) (action, payload string) {
	action, payload, _ = strings.Cut(data, ":")
	return action, payload
}

// SplitID is Split for numeric payloads; ok is false when the payload
// is absent or not an integer.
func SplitID(data string) (action string, id int64, ok bool) {
	action, payload := Split(data)
	if payload == "" {
		return action, 0, false
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return action, 0, false
	}
	return action, id, true
}

// CheckDataLen validates data against Telegram's callback_data limit.
func CheckDataLen(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
