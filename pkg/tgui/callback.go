// Package tgui provides small chat UI helpers: callback data packing
// and text shaping for message limits.
package tgui

import "strings"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes
// for the full "action:payload" string.
const MaxCallbackDataLen = 64

// Data formats inline callback data as "action:payload".
func Data(action, payload string) string {
	action = strings.TrimSpace(action)
	if payload == "" {
		return action
	}
	return action + ":" + payload
}

// Split separates callback data into action and payload. Payload may
// itself contain colons; only the first one splits.
func Split(data string) (action, payload string) {
	action, payload, _ = strings.Cut(data, ":")
	return action, payload
}
