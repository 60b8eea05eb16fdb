// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/json"
	flag "github.com/spf13/pflag"

	"github.com/brickrollup/brickrollup/cmd/conf"
	"github.com/brickrollup/brickrollup/cmd/genericconf"
	"github.com/brickrollup/brickrollup/cmd/util/confighelpers"
	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/profile"
	"github.com/brickrollup/brickrollup/scheduler"
	"github.com/brickrollup/brickrollup/scripting"
	"github.com/brickrollup/brickrollup/util/rpcclient"
)

type RollupConfig struct {
	Rpc    string `koanf:"rpc"`
	Anchor string `koanf:"anchor"`
}

var RollupConfigDefault = RollupConfig{
	Rpc:    "",
	Anchor: "",
}

func RollupConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".rpc", RollupConfigDefault.Rpc, "target chain rpc url the oracle answers on (empty leaves the oracle unconfigured)")
	f.String(prefix+".anchor", RollupConfigDefault.Anchor, "address of the rollup anchor contract")
}

type CoreConfig struct {
	Processor  string `koanf:"processor"`
	Driver     string `koanf:"driver"`
	ScriptFile string `koanf:"script-file"`
	Upload     bool   `koanf:"upload"`
	Settings   string `koanf:"settings"`
}

var CoreConfigDefault = CoreConfig{
	Processor:  "script",
	Driver:     "js",
	ScriptFile: "",
	Upload:     false,
	Settings:   "",
}

func CoreConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".processor", CoreConfigDefault.Processor, "request processor (script or graphql-stats)")
	f.String(prefix+".driver", CoreConfigDefault.Driver, "script driver (js or expr)")
	f.String(prefix+".script-file", CoreConfigDefault.ScriptFile, "file holding the processing script")
	f.Bool(prefix+".upload", CoreConfigDefault.Upload, "upload the script to the code registry and reference it by hash")
	f.String(prefix+".settings", CoreConfigDefault.Settings, "settings string handed to the processor")
}

type SeedConfig struct {
	Enable     bool   `koanf:"enable"`
	Name       string `koanf:"name"`
	AccountRpc string `koanf:"account-rpc"`
}

var SeedConfigDefault = SeedConfig{
	Enable:     true,
	Name:       "answer-requests",
	AccountRpc: "",
}

func SeedConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", SeedConfigDefault.Enable, "create the answering workflow and its evm account when the operator profile has none")
	f.String(prefix+".name", SeedConfigDefault.Name, "name of the seeded workflow")
	f.String(prefix+".account-rpc", SeedConfigDefault.AccountRpc, "rpc url of the seeded evm account (defaults to rollup.rpc)")
}

type RollupdConfig struct {
	Conf       genericconf.ConfConfig `koanf:"conf"`
	Persistent conf.PersistentConfig  `koanf:"persistent"`

	FileLogging genericconf.FileLoggingConfig `koanf:"file-logging"`
	LogLevel    string                        `koanf:"log-level"`
	LogType     string                        `koanf:"log-type"`

	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`

	Secret genericconf.SecretConfig `koanf:"secret"`
	Owner  string                   `koanf:"owner"`

	Chain      rpcclient.PoolConfig `koanf:"chain"`
	Rollup     RollupConfig         `koanf:"rollup"`
	Core       CoreConfig           `koanf:"core"`
	Profile    profile.Config       `koanf:"profile"`
	Seed       SeedConfig           `koanf:"seed"`
	Codebase   codebase.Config      `koanf:"codebase"`
	Scheduler  scheduler.Config     `koanf:"scheduler"`
	Datasource datasource.Config    `koanf:"datasource"`
	Scripting  scripting.Config     `koanf:"scripting"`
}

var RollupdConfigDefault = RollupdConfig{
	Conf:          genericconf.ConfConfigDefault,
	Persistent:    conf.PersistentConfigDefault,
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	LogLevel:      "INFO",
	LogType:       "plaintext",
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	Secret:        genericconf.SecretConfigDefault,
	Owner:         "",
	Chain:         rpcclient.DefaultPoolConfig,
	Rollup:        RollupConfigDefault,
	Core:          CoreConfigDefault,
	Profile:       profile.DefaultConfig,
	Seed:          SeedConfigDefault,
	Codebase:      codebase.DefaultConfig,
	Scheduler:     scheduler.DefaultConfig,
	Datasource:    datasource.DefaultConfig,
	Scripting:     scripting.DefaultConfig,
}

func RollupdConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	conf.PersistentConfigAddOptions("persistent", f)

	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	f.String("log-level", RollupdConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", RollupdConfigDefault.LogType, "log type (plaintext or json)")

	f.Bool("metrics", RollupdConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)

	genericconf.SecretConfigAddOptions("secret", f)
	f.String("owner", RollupdConfigDefault.Owner, "hex account id of the operator owning every contract (defaults to a name derived id)")

	rpcclient.PoolConfigAddOptions("chain", f)
	RollupConfigAddOptions("rollup", f)
	CoreConfigAddOptions("core", f)
	profile.ConfigAddOptions("profile", f)
	SeedConfigAddOptions("seed", f)
	codebase.ConfigAddOptions("codebase", f)
	scheduler.ConfigAddOptions("scheduler", f)
	datasource.ConfigAddOptions("datasource", f)
	scripting.ConfigAddOptions("scripting", f)
}

func ParseRollupd(args []string) (*RollupdConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)

	RollupdConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	var config RollupdConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}

	if config.Conf.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{
			"secret.secret": "",
		})
		if err != nil {
			return nil, fmt.Errorf("error removing extra parameters before dump: %w", err)
		}

		c, err := k.Marshal(json.Parser())
		if err != nil {
			return nil, fmt.Errorf("unable to marshal config file to JSON: %w", err)
		}

		fmt.Println(string(c))
		os.Exit(0)
	}

	return &config, nil
}
