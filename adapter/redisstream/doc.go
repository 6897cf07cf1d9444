// Package redisstream provides a Redis Streams native for xmux, for peers
// that run out of process and exchange frames through Redis.
//
// Native name: "redis-streams"
//
// Keys (with the default prefix "xmux"):
//   - xmux:clients   INCR counter handing out client ids
//   - xmux:requests  stream of {client_id, frame} written by Send
//   - xmux:updates   stream of {frame} written by the peer, read by Receive
//   - xmux:execute   stream of {reply_to, frame} for Execute
//   - xmux:reply:<uuid>  list the peer LPUSHes the Execute reply onto
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - prefix: key namespace (default "xmux")
//   - batch_size: XREAD COUNT (default 64)
//   - max_len_approx: trim the requests stream (default unbounded)
//   - execute_timeout: BLPOP bound for Execute (default 5s)
//   - from_start: replay the updates stream from its first entry (default false)
//
// Example builder usage:
//
//	rt, err := xmux.NewRuntimeBuilder().
//	    WithNative(redisstream.NativeName, map[string]any{
//	        "addr":   "localhost:6379",
//	        "prefix": "bots",
//	    }).
//	    Build()
package redisstream
