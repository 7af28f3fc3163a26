package dispatch

// QueueClosedError is returned by Enqueue once the dispatcher has been
// stopped. Treated as non-fatal by every caller: the producer (often the
// worker goroutine itself reacting to its own HA notification) must not
// block or crash when the queue it is feeding is already gone.
type QueueClosedError struct{}

func (QueueClosedError) Error() string { return "dispatch: update queue closed" }
