//go:build linux

package platform

// NewNotifier returns the desktop notifier for this system.
func NewNotifier() Notifier {
	return commandNotifier{
		name: "notify-send",
		args: func(title, message string) []string { return []string{"--app-name", title, title, message} },
	}
}
