package handler

import (
	"strconv"
	"strings"

	"redis/internal/protocol"
)

func (h *CommandHandler) handlePing(args [][]byte) protocol.Frame {
	if len(args) > 1 {
		return protocol.NewError("Unexpected data type")
	}
	if len(args) == 1 {
		return protocol.NewBulkString(args[0])
	}
	return protocol.NewSimpleString("PONG")
}

func (h *CommandHandler) handleEcho(args [][]byte) protocol.Frame {
	if len(args) != 1 {
		return protocol.NewError("Unexpected data type")
	}
	return protocol.NewBulkString(args[0])
}

func (h *CommandHandler) handleSet(args [][]byte) protocol.Frame {
	if len(args) != 2 && len(args) != 4 {
		return protocol.NewError("Unexpected data type")
	}

	key := string(args[0])
	value := args[1]

	var expiryMs uint64
	if len(args) == 4 {
		if !strings.EqualFold(string(args[2]), "PX") {
			return protocol.NewError("Unexpected data type")
		}
		ms, err := strconv.ParseUint(string(args[3]), 10, 64)
		if err != nil {
			return protocol.NewError("Unexpected data type")
		}
		expiryMs = ms
	}

	h.store.Set(key, value, expiryMs)
	return protocol.NewSimpleString("OK")
}

func (h *CommandHandler) handleGet(args [][]byte) protocol.Frame {
	if len(args) != 1 {
		return protocol.NewError("Unexpected data type")
	}
	v, ok := h.store.Get(string(args[0]))
	if !ok {
		return protocol.NewNullBulkString()
	}
	return protocol.NewBulkString(v)
}

func (h *CommandHandler) handleType(args [][]byte) protocol.Frame {
	if len(args) != 1 {
		return protocol.NewError("Unexpected data type")
	}
	key := string(args[0])
	switch {
	case h.store.Exists(key):
		return protocol.NewSimpleString("string")
	case h.streams.Exists(key):
		return protocol.NewSimpleString("stream")
	default:
		return protocol.NewSimpleString("none")
	}
}
