package orders

const (
	TopicOrderCreated           = "order.created"
	TopicOrderCancelled         = "order.cancelled"
	TopicStockReservationFailed = "order.stock.reservation_failed"
	TopicStockReleased          = "order.stock.released"
)

// Partition key = order_id so every event of one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
