package contract

import (
	"encoding/json"
	"math/big"

	"usnd/host"
)

const (
	eventStandard = "nep141"
	eventVersion  = "1.0.0"

	// EventPrefix marks structured event lines in the host log.
	EventPrefix = "EVENT_JSON:"
)

type eventEnvelope struct {
	Standard string      `json:"standard"`
	Version  string      `json:"version"`
	Event    string      `json:"event"`
	Data     interface{} `json:"data"`
}

type mintBurnData struct {
	OwnerID string `json:"owner_id"`
	Amount  string `json:"amount"`
	Memo    string `json:"memo,omitempty"`
}

type transferData struct {
	OldOwnerID string `json:"old_owner_id"`
	NewOwnerID string `json:"new_owner_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
}

func emitEvent(env *host.Env, event string, data interface{}) {
	payload, err := json.Marshal(eventEnvelope{
		Standard: eventStandard,
		Version:  eventVersion,
		Event:    event,
		Data:     data,
	})
	if err != nil {
		return
	}
	env.EmitEvent(EventPrefix + string(payload))
}

func emitMint(env *host.Env, owner string, amount *big.Int, memo string) {
	emitEvent(env, "ft_mint", []mintBurnData{{
		OwnerID: owner,
		Amount:  amountString(amount),
		Memo:    memo,
	}})
}

func emitBurn(env *host.Env, owner string, amount *big.Int, memo string) {
	emitEvent(env, "ft_burn", []mintBurnData{{
		OwnerID: owner,
		Amount:  amountString(amount),
		Memo:    memo,
	}})
}

func emitTransfer(env *host.Env, from, to string, amount *big.Int, memo string) {
	emitEvent(env, "ft_transfer", []transferData{{
		OldOwnerID: from,
		NewOwnerID: to,
		Amount:     amountString(amount),
		Memo:       memo,
	}})
}
