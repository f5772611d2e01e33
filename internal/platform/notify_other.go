//go:build !linux && !darwin

package platform

type unsupportedNotifier struct{}

func (unsupportedNotifier) Notify(string, string) error { return ErrNotifyUnsupported }

func NewNotifier() Notifier { return unsupportedNotifier{} }
