package notifier

// TextNotifier is the only capability callers depend on.
type TextNotifier interface {
	SendText(text string) error
}
