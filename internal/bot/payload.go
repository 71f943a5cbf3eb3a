package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action: действие, закодированное в кнопке.
type Action string

const (
	ActionClose      Action = "close"
	ActionConfirm    Action = "confirm"
	ActionDecline    Action = "decline"
	ActionAbort      Action = "abort"
	ActionRevert     Action = "revert"
	ActionRevertGift Action = "revertgift"
	ActionAccept     Action = "accept"
)

// ErrBadPayload возвращается для нераспознанных данных кнопки.
var ErrBadPayload = errors.New("bad callback payload")

// Payload: данные кнопки в формате action_param1_param2.
// Для подтверждений ID содержит автора запроса, Handle содержит адресата;
// для отмены и принятия ID содержит идентификатор транзакции.
type Payload struct {
	Action Action
	ID     int64
	Handle string
}

// Encode сериализует Payload. Handle идёт последним, поэтому может содержать "_".
func (p Payload) Encode() string {
	switch p.Action {
	case ActionClose:
		return string(p.Action)
	case ActionConfirm, ActionDecline, ActionAbort:
		return fmt.Sprintf("%s_%d_%s", p.Action, p.ID, p.Handle)
	default:
		return fmt.Sprintf("%s_%d", p.Action, p.ID)
	}
}

// DecodePayload разбирает данные кнопки.
func DecodePayload(data string) (Payload, error) {
	parts := strings.SplitN(data, "_", 3)
	p := Payload{Action: Action(parts[0])}

	switch p.Action {
	case ActionClose:
		return p, nil
	case ActionConfirm, ActionDecline, ActionAbort:
		if len(parts) != 3 || parts[2] == "" {
			return Payload{}, fmt.Errorf("%w: %q", ErrBadPayload, data)
		}
		p.Handle = parts[2]
	case ActionRevert, ActionRevertGift, ActionAccept:
		if len(parts) != 2 {
			return Payload{}, fmt.Errorf("%w: %q", ErrBadPayload, data)
		}
	default:
		return Payload{}, fmt.Errorf("%w: unknown action %q", ErrBadPayload, parts[0])
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return Payload{}, fmt.Errorf("%w: %q", ErrBadPayload, data)
	}
	p.ID = id
	return p, nil
}
