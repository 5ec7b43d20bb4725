// Package web3 houses blockchain connectivity for the rebalancing agent:
// RPC clients, vault and pool contract calls, transaction signing and
// multi-chain configuration helpers. Action definitions consume these
// clients through the Client interface so EVM networks such as Base,
// Arbitrum and Optimism are handled uniformly.
package web3
