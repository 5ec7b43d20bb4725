// Package action defines the schedulable units of work: vault
// reconciliation, single-chain swaps, liquidity deposits and withdrawals,
// and cross-chain transfers. Each definition declares the resource locks
// it needs while active and drives its tasks through submit and confirm
// phases against the chain or the bridging backend.
package action
