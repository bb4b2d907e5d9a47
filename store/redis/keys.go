package redis

// Key prefixes for primary entity storage.
const (
	prefixSubscription = "herald:sub:"
	prefixDelivery     = "herald:del:"
)

// Key prefixes for sorted set indexes.
const (
	zSubscriptionOwner = "herald:z:sub:owner:" // + owner ID
	zDeliverySub       = "herald:z:del:sub:"   // + subscription ID
	zDeliveryPending   = "herald:z:del:pending"
)

// Key prefixes for set and list indexes.
const (
	sSubscriptionActive = "herald:s:sub:active:" // + owner ID
	lAttempts           = "herald:l:att:"        // + delivery ID
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
