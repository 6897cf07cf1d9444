package redisstream

// Stream entry fields (avoid typos/allocs)
const (
	fieldClientID = "client_id"
	fieldFrame    = "frame" // raw codec bytes, no base64
	fieldReplyTo  = "reply_to"
)

// Key suffixes appended to Config.Prefix.
const (
	suffixRequests = ":requests"
	suffixUpdates  = ":updates"
	suffixExecute  = ":execute"
	suffixClients  = ":clients"
	suffixReply    = ":reply:"
)
