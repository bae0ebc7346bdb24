package slashing

import (
	"context"
	"encoding/json"

	"matchguard/internal/chain"
)

// Escrow is the fund-movement collaborator invoked by StakeSlash and
// RewardConfiscation penalties (spec §4.5). A real implementation forwards
// to the ChainGateway against an escrow contract; tests use a fake.
type Escrow interface {
	SlashStake(ctx context.Context, subject, amount, asset string) error
	ConfiscateReward(ctx context.Context, subject, amount, asset string) error
}

// ChainEscrow adapts a chain.Gateway to the Escrow contract by invoking the
// escrow contract's slash_stake/confiscate_reward functions (spec §4.5
// penalty dispatch table).
type ChainEscrow struct {
	Gateway     chain.Gateway
	ContractID  string
	SignerSecret string
}

type escrowArgs struct {
	Subject string `json:"subject"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
}

func (e ChainEscrow) SlashStake(ctx context.Context, subject, amount, asset string) error {
	return e.invoke(ctx, "slash_stake", subject, amount, asset)
}

func (e ChainEscrow) ConfiscateReward(ctx context.Context, subject, amount, asset string) error {
	return e.invoke(ctx, "confiscate_reward", subject, amount, asset)
}

func (e ChainEscrow) invoke(ctx context.Context, fn, subject, amount, asset string) error {
	argsJSON, err := json.Marshal(escrowArgs{Subject: subject, Amount: amount, Asset: asset})
	if err != nil {
		return err
	}
	_, err = e.Gateway.Invoke(ctx, e.ContractID, fn, argsJSON, e.SignerSecret)
	return err
}
