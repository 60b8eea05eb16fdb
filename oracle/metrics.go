// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import "github.com/ethereum/go-ethereum/metrics"

var (
	answeredCounter    = metrics.NewRegisteredCounter("rollup/oracle/answered", nil)
	noopCounter        = metrics.NewRegisteredCounter("rollup/oracle/noop", nil)
	failedCounter      = metrics.NewRegisteredCounter("rollup/oracle/failed", nil)
	errorReplyCounter  = metrics.NewRegisteredCounter("rollup/oracle/errorreply", nil)
	answerRequestTimer = metrics.NewRegisteredTimer("rollup/oracle/answer", nil)
)
