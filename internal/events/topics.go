package events

// Topic constants for domain events emitted by the checkout.
const (
	TopicSessionOpened = "session.opened"
	TopicSessionReset  = "session.reset"
	TopicSaleSettled   = "sale.settled"
	TopicFeesRefreshed = "fees.refreshed"
)
