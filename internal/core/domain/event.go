package domain

// EventName is one of the closed webhook event vocabulary.
type EventName string

const (
	EventPaymentProcessing EventName = "payment.processing"
	EventPaymentCompleted  EventName = "payment.completed"
	EventPaymentFailed     EventName = "payment.failed"
	EventPaymentRefunded   EventName = "payment.refunded"
	EventPaymentCancelled  EventName = "payment.cancelled"
)

// KnownEvent reports whether name is part of the vocabulary.
func KnownEvent(name EventName) bool {
	switch name {
	case EventPaymentProcessing, EventPaymentCompleted, EventPaymentFailed,
		EventPaymentRefunded, EventPaymentCancelled:
		return true
	}
	return false
}

// EventForStatus maps a transaction status to its outcome event.
// PENDING has no event; fan-out only starts once a provider is engaged.
func EventForStatus(status TransactionStatus) (EventName, bool) {
	switch status {
	case StatusProcessing:
		return EventPaymentProcessing, true
	case StatusCompleted:
		return EventPaymentCompleted, true
	case StatusFailed:
		return EventPaymentFailed, true
	case StatusRefunded:
		return EventPaymentRefunded, true
	case StatusCancelled:
		return EventPaymentCancelled, true
	}
	return "", false
}
