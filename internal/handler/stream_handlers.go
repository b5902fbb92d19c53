package handler

import (
	"redis/internal/protocol"
	"redis/internal/storage"
)

func (h *CommandHandler) handleXAdd(args [][]byte) protocol.Frame {
	if len(args) < 4 || (len(args)-2)%2 != 0 {
		return protocol.NewError("Unexpected data type")
	}

	key := string(args[0])
	rawID := string(args[1])
	fieldArgs := args[2:]

	pairs := make([]storage.FieldValue, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		pairs = append(pairs, storage.FieldValue{Field: fieldArgs[i], Value: fieldArgs[i+1]})
	}

	id, err := h.streams.Append(key, rawID, pairs)
	if err != nil {
		return protocol.NewError(err.Error())
	}
	return protocol.NewBulkString([]byte(id.String()))
}

func (h *CommandHandler) handleXRange(args [][]byte) protocol.Frame {
	if len(args) != 3 {
		return protocol.NewError("Unexpected data type")
	}

	key := string(args[0])
	start, err := storage.ParseRangeStart(string(args[1]))
	if err != nil {
		return protocol.NewError(err.Error())
	}
	end, err := storage.ParseRangeEnd(string(args[2]))
	if err != nil {
		return protocol.NewError(err.Error())
	}

	entries := h.streams.Range(key, start, end)
	elems := make([]protocol.Frame, 0, len(entries))
	for _, e := range entries {
		fieldFrames := make([]protocol.Frame, 0, len(e.Pairs)*2)
		for _, p := range e.Pairs {
			fieldFrames = append(fieldFrames, protocol.NewBulkString(p.Field), protocol.NewBulkString(p.Value))
		}
		elems = append(elems, protocol.NewArray([]protocol.Frame{
			protocol.NewBulkString([]byte(e.ID.String())),
			protocol.NewArray(fieldFrames),
		}))
	}
	return protocol.NewArray(elems)
}
