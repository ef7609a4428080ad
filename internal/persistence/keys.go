package persistence

const keyPrefix = "ripper:"

// jobKey holds the msgpack-encoded job header: ripper:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// itemsKey is the Hash of msgpack-encoded items keyed by index.
func itemsKey(id string) string { return keyPrefix + "job:" + id + ":items" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
