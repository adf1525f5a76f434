// Package tokenmon and its sub-packages implement a Prometheus exporter of ERC20 token balances and USD prices across
// several EVM blockchains.
/*
tokenmon runs a single service (cmd/tokenmon) configured by a JSON or YAML file and TOKMON_* environment variables.

Architecture

For every configured chain the service holds a read-only client to a node (package lib/block) and the list of tokens
and wallets to watch. A refresh loop (package monitor) wakes up every interval and, for all tokens of all chains at the
same time, reads the token name and decimals when due, resolves its USD price and reads the balance of every wallet.
The calls made to a node are bounded by a limiter shared by all the chains using that node, and every call has its
own timeout, so a slow or unreachable chain never holds back the others.

Prices are resolved by one of three strategies configured per token (package monitor/pricing): a fixed rate, the
reserve ratio of a Uniswap V2 pool or a Uniswap V3 quoter. A failed resolution keeps the last known price.

The results are kept in memory (package monitor/tokenstate) and exported as the gauges balance_of, balance_of_usd and
price_in_usd (package lib/metrics). USD gauges are only exported while the token price is known.

HTTP API

The exporter (package exporter) serves GET /metrics for Prometheus, GET /networks and GET /tokens?net=<chain> with the
cached token state. Requests never reach the chains.

Optional outputs

After every cycle the resolved prices can be published to a message broker (package lib/msg, AMQP exchange "pu") and
the prices and balances appended to a database (package lib/store, MongoDB or PostgreSQL). Both are product agnostic
layers selected by the dbtype and mbtype configuration values.

*/
package tokenmon
