package server

import (
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"github.com/valkrau/shardmap/internal/resp"
	"github.com/valkrau/shardmap/internal/store"
)

// Handler turns parsed commands into RESP replies against one store.
// It is stateless per call and shared by every connection.
type Handler struct {
	store *store.Store
	log   *zap.Logger
	start time.Time
}

func NewHandler(st *store.Store, log *zap.Logger) *Handler {
	return &Handler{store: st, log: log, start: time.Now()}
}

// Execute appends the reply for args to out and returns it, plus
// whether the connection should close after the reply is written.
//
// Parsed args may alias a transient read buffer; Execute copies
// whatever it hands to the store.
func (h *Handler) Execute(out []byte, args []string) (buf []byte, closeAfter bool) {
	if len(args) == 0 || args[0] == "" {
		return resp.AppendError(out, "ERR empty command"), false
	}

	cmd := normalize(args[0])
	switch cmd {
	case "PING":
		switch len(args) {
		case 1:
			return resp.AppendSimpleString(out, "PONG"), false
		case 2:
			return resp.AppendBulkString(out, args[1]), false
		}
		return arityError(out, cmd), false

	case "SET":
		if len(args) < 3 {
			return arityError(out, cmd), false
		}
		ttl, ok := parseSetOptions(args[3:])
		if !ok {
			return resp.AppendError(out, "ERR syntax error"), false
		}
		key, value := strings.Clone(args[1]), strings.Clone(args[2])
		if ttl > 0 {
			h.store.SetWithTTL(key, value, ttl)
		} else {
			h.store.Set(key, value)
		}
		return resp.AppendSimpleString(out, "OK"), false

	case "GET":
		if len(args) != 2 {
			return arityError(out, cmd), false
		}
		if value, ok := h.store.Get(args[1]); ok {
			return resp.AppendBulkString(out, value), false
		}
		return resp.AppendNullBulkString(out), false

	case "DEL":
		if len(args) < 2 {
			return arityError(out, cmd), false
		}
		removed := int64(0)
		for _, key := range args[1:] {
			if h.store.Delete(key) {
				removed++
			}
		}
		return resp.AppendInt(out, removed), false

	case "EXISTS":
		if len(args) < 2 {
			return arityError(out, cmd), false
		}
		found := int64(0)
		for _, key := range args[1:] {
			if h.store.Exists(key) {
				found++
			}
		}
		return resp.AppendInt(out, found), false

	case "INCR":
		if len(args) != 2 {
			return arityError(out, cmd), false
		}
		n, err := h.store.Incr(strings.Clone(args[1]))
		if err != nil {
			return resp.AppendError(out, "ERR value is not an integer or out of range"), false
		}
		return resp.AppendInt(out, n), false

	case "EXPIRE":
		if len(args) != 3 {
			return arityError(out, cmd), false
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return resp.AppendError(out, "ERR value is not an integer or out of range"), false
		}
		if h.store.Expire(args[1], time.Duration(seconds)*time.Second) {
			return resp.AppendInt(out, 1), false
		}
		return resp.AppendInt(out, 0), false

	case "TTL":
		if len(args) != 2 {
			return arityError(out, cmd), false
		}
		return resp.AppendInt(out, h.store.TTL(args[1])), false

	case "KEYS":
		if len(args) != 2 {
			return arityError(out, cmd), false
		}
		return h.appendKeys(out, args[1]), false

	case "DBSIZE":
		return resp.AppendInt(out, int64(h.store.Len())), false

	case "FLUSHALL":
		h.store.Clear()
		h.log.Info("flushed all keys")
		return resp.AppendSimpleString(out, "OK"), false

	case "INFO":
		return h.appendInfo(out), false

	case "CONFIG":
		if len(args) >= 2 && normalize(args[1]) == "GET" {
			return resp.AppendArrayHeader(out, 0), false
		}
		return arityError(out, cmd), false

	case "QUIT", "EXIT":
		return resp.AppendSimpleString(out, "OK"), true
	}

	return resp.AppendError(out, "ERR unknown command '"+args[0]+"'"), false
}

// parseSetOptions understands the EX/PX suffix of SET; ok=false means
// a syntax error.
func parseSetOptions(opts []string) (ttl time.Duration, ok bool) {
	if len(opts) == 0 {
		return 0, true
	}
	if len(opts) != 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(opts[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch normalize(opts[0]) {
	case "EX":
		return time.Duration(n) * time.Second, true
	case "PX":
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}

func (h *Handler) appendKeys(out []byte, pattern string) []byte {
	keys := h.store.Keys(nil)
	if pattern == "*" {
		out = resp.AppendArrayHeader(out, len(keys))
		for _, k := range keys {
			out = resp.AppendBulkString(out, k)
		}
		return out
	}

	matched := keys[:0]
	for _, k := range keys {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return resp.AppendError(out, "ERR invalid pattern")
		}
		if ok {
			matched = append(matched, k)
		}
	}
	out = resp.AppendArrayHeader(out, len(matched))
	for _, k := range matched {
		out = resp.AppendBulkString(out, k)
	}
	return out
}

type serverInfo struct {
	Engine        string `json:"engine"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Keys          int    `json:"keys"`
	Shards        int    `json:"shards"`
	ShardSizes    []int  `json:"shard_sizes"`
	Goroutines    int    `json:"goroutines"`
	HeapAllocMB   uint64 `json:"heap_alloc_mb"`
}

func (h *Handler) appendInfo(out []byte) []byte {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	sizes := h.store.ShardSizes()
	info := serverInfo{
		Engine:        "shardmap",
		UptimeSeconds: int64(time.Since(h.start).Seconds()),
		Keys:          h.store.Len(),
		Shards:        len(sizes),
		ShardSizes:    sizes,
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   mem.HeapAlloc >> 20,
	}
	data, err := sonnet.Marshal(info)
	if err != nil {
		h.log.Error("encode info", zap.Error(err))
		return resp.AppendError(out, "ERR internal")
	}
	return resp.AppendBulkString(out, string(data))
}

func arityError(out []byte, cmd string) []byte {
	return resp.AppendError(out, "ERR wrong number of arguments for '"+cmd+"' command")
}

// normalize upper-cases a command without allocating when it already
// is upper-case, the common case on the wire.
func normalize(cmd string) string {
	for i := 0; i < len(cmd); i++ {
		if cmd[i] >= 'a' && cmd[i] <= 'z' {
			return strings.ToUpper(cmd)
		}
	}
	return cmd
}
