//go:build darwin

package platform

import "strconv"

func NewNotifier() Notifier {
	return commandNotifier{
		name: "osascript",
		args: func(title, message string) []string {
			script := "display notification " + strconv.Quote(message) + " with title " + strconv.Quote(title)
			return []string{"-e", script}
		},
	}
}
