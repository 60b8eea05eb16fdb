// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package util

import (
	"fmt"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"

	"github.com/brickrollup/brickrollup/cmd/genericconf"
)

// StartMetrics serves the metrics registry when enabled.
func StartMetrics(enable bool, server *genericconf.MetricsServerConfig) error {
	if !enable {
		return nil
	}
	if !metrics.Enabled {
		return fmt.Errorf("metrics must be enabled via command line by adding --metrics, json config has no effect")
	}
	go metrics.CollectProcessMetrics(server.UpdateInterval)
	exp.Setup(fmt.Sprintf("%v:%v", server.Addr, server.Port))
	return nil
}
